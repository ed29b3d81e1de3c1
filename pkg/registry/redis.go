package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/catalogfi/otc/pkg/otc"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisProvider is a variable provider keeping the fee policy in redis, so it can be changed
// without restarting the daemon.
type RedisProvider struct {
	client    *redis.Client
	namespace string
	validator otc.AddressValidator
}

var _ FeeUpdater = (*RedisProvider)(nil)

func NewRedisProvider(redisURL, namespace string, validator otc.AddressValidator) (*RedisProvider, error) {
	parsedURL, err := url.Parse(redisURL)
	if err != nil {
		return nil, err
	}
	redisPassword, _ := parsedURL.User.Password()
	client := redis.NewClient(&redis.Options{
		Addr:     parsedURL.Host,
		Password: redisPassword,
		DB:       0, // Use default DB.
	})
	return NewRedisProviderFromClient(client, namespace, validator), nil
}

func NewRedisProviderFromClient(client *redis.Client, namespace string, validator otc.AddressValidator) *RedisProvider {
	return &RedisProvider{client: client, namespace: namespace, validator: validator}
}

func (rp *RedisProvider) key(name string) string {
	if rp.namespace == "" {
		return name
	}
	return rp.namespace + ":" + name
}

func (rp *RedisProvider) ResolveFee(ctx context.Context) (otc.Fee, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	values, err := rp.client.MGet(ctx, rp.key(KeyPerformanceFee), rp.key(KeyFeeCollector), rp.key(KeyFlatFee)).Result()
	if err != nil {
		return otc.Fee{}, fmt.Errorf("resolve fee: %w", err)
	}
	// A missing or empty performance fee leaves the proportional fee off.
	fee := otc.Fee{Ratio: decimal.Zero}
	if ratio, ok := values[0].(string); ok && ratio != "" {
		if fee.Ratio, err = decimal.NewFromString(ratio); err != nil {
			return otc.Fee{}, fmt.Errorf("%w: %v", otc.ErrInvalidFeeConfiguration, err)
		}
	}
	if collector, ok := values[1].(string); ok {
		fee.Collector = otc.Address(collector)
	}
	if flat, ok := values[2].(string); ok && flat != "" {
		if err := json.Unmarshal([]byte(flat), &fee.Flat); err != nil {
			return otc.Fee{}, fmt.Errorf("%w: flat fee: %v", otc.ErrInvalidFeeConfiguration, err)
		}
	}
	return fee.Validate(rp.validator)
}

// SetFee validates and registers a new fee policy. Either the ratio or the flat fee may be left
// empty, but not both.
func (rp *RedisProvider) SetFee(ctx context.Context, fee otc.Fee) error {
	if fee.IsZero() {
		return fmt.Errorf("%w: neither a ratio nor a flat fee", otc.ErrInvalidFeeConfiguration)
	}
	valid, err := fee.Validate(rp.validator)
	if err != nil {
		return err
	}
	flat := []byte{}
	if len(valid.Flat) > 0 {
		if flat, err = json.Marshal(valid.Flat); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = rp.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rp.key(KeyPerformanceFee), valid.Ratio.String(), 0)
		pipe.Set(ctx, rp.key(KeyFeeCollector), valid.Collector.String(), 0)
		pipe.Set(ctx, rp.key(KeyFlatFee), string(flat), 0)
		return nil
	})
	return err
}

// Registered reports whether any part of the fee policy has been registered.
func (rp *RedisProvider) Registered(ctx context.Context) (bool, error) {
	n, err := rp.client.Exists(ctx, rp.key(KeyPerformanceFee), rp.key(KeyFeeCollector), rp.key(KeyFlatFee)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear removes the registered fee policy.
func (rp *RedisProvider) Clear(ctx context.Context) error {
	err := rp.client.Del(ctx, rp.key(KeyPerformanceFee), rp.key(KeyFeeCollector), rp.key(KeyFlatFee)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (rp *RedisProvider) Close() error {
	return rp.client.Close()
}
