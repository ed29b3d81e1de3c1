package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/catalogfi/otc/pkg/otc"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Owner         string         `yaml:"owner"`
	EscrowAddress string         `yaml:"escrow_address"`
	DB            string         `yaml:"db"`
	FeeRatio      string         `yaml:"fee_ratio"`
	FeeCollector  string         `yaml:"fee_collector"`
	FlatFee       []otc.ItemInfo `yaml:"flat_fee"`
	RedisURL      string         `yaml:"redis_url"`
	JWTSecret     string         `yaml:"jwt_secret"`
	Domain        string         `yaml:"domain"`
	Addr          string         `yaml:"addr"`
	Sentry        string         `yaml:"sentry"`
	Dev           bool           `yaml:"dev"`
}

// LoadConfig reads the optional yaml file named by OTC_CONFIG_FILE and applies the OTC_*
// environment variables on top of it.
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := Config{Addr: ":8080"}
	if path := getenv("OTC_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	override := func(dst *string, name string) {
		if val := getenv(name); val != "" {
			*dst = val
		}
	}
	override(&cfg.Owner, "OTC_OWNER")
	override(&cfg.EscrowAddress, "OTC_ESCROW_ADDRESS")
	override(&cfg.DB, "OTC_DB")
	override(&cfg.FeeRatio, "OTC_FEE_RATIO")
	override(&cfg.FeeCollector, "OTC_FEE_COLLECTOR")
	override(&cfg.RedisURL, "OTC_REDIS_URL")
	override(&cfg.JWTSecret, "OTC_JWT_SECRET")
	override(&cfg.Domain, "OTC_DOMAIN")
	override(&cfg.Addr, "OTC_ADDR")
	override(&cfg.Sentry, "OTC_SENTRY_DSN")
	if flat := getenv("OTC_FLAT_FEE"); flat != "" {
		cfg.FlatFee = nil
		if err := yaml.Unmarshal([]byte(flat), &cfg.FlatFee); err != nil {
			return Config{}, fmt.Errorf("failed to parse OTC_FLAT_FEE: %w", err)
		}
	}
	if dev := getenv("OTC_DEV"); dev != "" {
		parsed, err := strconv.ParseBool(dev)
		if err != nil {
			return Config{}, fmt.Errorf("failed to parse OTC_DEV: %w", err)
		}
		cfg.Dev = parsed
	}

	if getenv("OTC_ADDRESS_PREFIX") != "" {
		return Config{}, fmt.Errorf("env 'OTC_ADDRESS_PREFIX' is not supported: sign in only issues hex wallets")
	}
	if cfg.Owner == "" {
		return Config{}, fmt.Errorf("env 'OTC_OWNER' not set")
	}
	if cfg.EscrowAddress == "" {
		return Config{}, fmt.Errorf("env 'OTC_ESCROW_ADDRESS' not set")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("env 'OTC_JWT_SECRET' not set")
	}
	return cfg, nil
}

// Validator accepts hex addresses only, matching the wallets issued by sign in.
func (cfg Config) Validator() otc.AddressValidator {
	return otc.NewHexValidator()
}

// Fee builds the configured fee policy. An unset ratio leaves the proportional fee off.
func (cfg Config) Fee() (otc.Fee, error) {
	fee := otc.Fee{Collector: otc.Address(cfg.FeeCollector), Flat: cfg.FlatFee}
	if cfg.FeeRatio != "" {
		ratio, err := otc.ParseRatio(cfg.FeeRatio)
		if err != nil {
			return otc.Fee{}, err
		}
		fee.Ratio = ratio
	}
	return fee.Validate(cfg.Validator())
}
