package main

import (
	"os"
	"path/filepath"

	"github.com/catalogfi/otc/pkg/otc"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func envOf(vars map[string]string) func(string) string {
	return func(name string) string {
		return vars[name]
	}
}

var _ = Describe("Config", func() {
	const (
		owner  = "0x0000000000000000000000000000000000000001"
		escrow = "0x0000000000000000000000000000000000000005"
	)

	It("should require the owner, the escrow address and the jwt secret", func() {
		_, err := LoadConfig(envOf(map[string]string{"OTC_OWNER": owner, "OTC_JWT_SECRET": "s"}))
		Expect(err).To(HaveOccurred())
		_, err = LoadConfig(envOf(map[string]string{"OTC_OWNER": owner, "OTC_ESCROW_ADDRESS": escrow}))
		Expect(err).To(HaveOccurred())
		_, err = LoadConfig(envOf(map[string]string{"OTC_ESCROW_ADDRESS": escrow, "OTC_JWT_SECRET": "s"}))
		Expect(err).To(MatchError(ContainSubstring("OTC_OWNER")))

		cfg, err := LoadConfig(envOf(map[string]string{"OTC_OWNER": owner, "OTC_ESCROW_ADDRESS": escrow, "OTC_JWT_SECRET": "s"}))
		Expect(err).To(BeNil())
		Expect(cfg.Addr).To(Equal(":8080"))
		Expect(cfg.Owner).To(Equal(owner))
	})

	It("should refuse bech32 addresses", func() {
		_, err := LoadConfig(envOf(map[string]string{
			"OTC_OWNER":          owner,
			"OTC_ESCROW_ADDRESS": escrow,
			"OTC_JWT_SECRET":     "s",
			"OTC_ADDRESS_PREFIX": "osmo",
		}))
		Expect(err).To(MatchError(ContainSubstring("OTC_ADDRESS_PREFIX")))
	})

	It("should parse the fee from the environment", func() {
		cfg, err := LoadConfig(envOf(map[string]string{
			"OTC_OWNER":          owner,
			"OTC_ESCROW_ADDRESS": escrow,
			"OTC_JWT_SECRET":     "s",
			"OTC_FEE_RATIO":      "0.05",
			"OTC_FEE_COLLECTOR":  "0x0000000000000000000000000000000000000004",
			"OTC_FLAT_FEE":       `[{kind: native, denom: uotc, amount: "5"}]`,
		}))
		Expect(err).To(BeNil())

		fee, err := cfg.Fee()
		Expect(err).To(BeNil())
		Expect(fee.Ratio.String()).To(Equal("0.05"))
		Expect(fee.Flat).To(HaveLen(1))
		Expect(fee.Flat[0].Kind).To(Equal(otc.AssetNative))
		Expect(fee.Flat[0].Amount.String()).To(Equal("5"))
	})

	It("should reject a fee ratio outside (0, 1]", func() {
		cfg, err := LoadConfig(envOf(map[string]string{
			"OTC_OWNER":          owner,
			"OTC_ESCROW_ADDRESS": escrow,
			"OTC_JWT_SECRET":     "s",
			"OTC_FEE_RATIO":      "1.5",
			"OTC_FEE_COLLECTOR":  "0x0000000000000000000000000000000000000004",
		}))
		Expect(err).To(BeNil())
		_, err = cfg.Fee()
		Expect(err).To(MatchError(otc.ErrInvalidFeeConfiguration))
	})

	It("should let the environment override the config file", func() {
		dir, err := os.MkdirTemp("", "otcd")
		Expect(err).To(BeNil())
		DeferCleanup(os.RemoveAll, dir)
		path := filepath.Join(dir, "otc.yaml")
		Expect(os.WriteFile(path, []byte("owner: "+owner+"\nescrow_address: "+escrow+"\njwt_secret: file\naddr: \":9000\"\n"), 0o600)).To(Succeed())

		cfg, err := LoadConfig(envOf(map[string]string{"OTC_CONFIG_FILE": path, "OTC_JWT_SECRET": "env"}))
		Expect(err).To(BeNil())
		Expect(cfg.Addr).To(Equal(":9000"))
		Expect(cfg.JWTSecret).To(Equal("env"))
		Expect(cfg.Owner).To(Equal(owner))
		_, err = cfg.Validator().Validate(escrow)
		Expect(err).To(BeNil())
	})
})
