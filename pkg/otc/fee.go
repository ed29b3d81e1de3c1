package otc

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Fee is the resolved fee policy of a settlement. Ratio is skimmed from every eligible item when a
// position settles, Flat is charged to the caller of create and execute. Both go to Collector.
type Fee struct {
	Ratio     decimal.Decimal `json:"ratio" yaml:"ratio"`
	Collector Address         `json:"collector" yaml:"collector"`
	Flat      []ItemInfo      `json:"flat,omitempty" yaml:"flat,omitempty"`
}

// ValidateRatio rejects ratios outside (0, 1].
func ValidateRatio(ratio decimal.Decimal) error {
	if !ratio.IsPositive() || ratio.GreaterThan(one) {
		return fmt.Errorf("%w: fee ratio must be in (0, 1], got %v", ErrInvalidFeeConfiguration, ratio)
	}
	return nil
}

// ParseRatio parses and validates a configured fee ratio.
func ParseRatio(raw string) (decimal.Decimal, error) {
	ratio, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidFeeConfiguration, err)
	}
	if err := ValidateRatio(ratio); err != nil {
		return decimal.Zero, err
	}
	return ratio, nil
}

// IsZero reports whether the fee charges nothing at all.
func (fee Fee) IsZero() bool {
	return fee.Ratio.IsZero() && len(fee.Flat) == 0
}

// Validate checks a configured fee. A zero ratio means the proportional fee is not configured.
func (fee Fee) Validate(v AddressValidator) (Fee, error) {
	if fee.IsZero() {
		return Fee{Ratio: decimal.Zero}, nil
	}
	if !fee.Ratio.IsZero() {
		if err := ValidateRatio(fee.Ratio); err != nil {
			return Fee{}, err
		}
	}
	collector, err := v.Validate(fee.Collector.String())
	if err != nil {
		return Fee{}, fmt.Errorf("%w: fee collector: %v", ErrInvalidFeeConfiguration, err)
	}
	flat := make([]ItemInfo, 0, len(fee.Flat))
	for _, info := range fee.Flat {
		valid, err := info.Validate(v)
		if err != nil {
			return Fee{}, fmt.Errorf("%w: flat fee: %v", ErrInvalidFeeConfiguration, err)
		}
		flat = append(flat, valid)
	}
	return Fee{Ratio: fee.Ratio, Collector: collector, Flat: flat}, nil
}

// ApplyFee skims floor(eligible * ratio) from every item, reducing the item amount in place, and
// returns the transfers paying the skimmed amounts from holder to collector. Non-fungible items
// are never charged.
func ApplyFee(items []Item, ratio decimal.Decimal, holder, collector Address) ([]Transfer, error) {
	if ratio.IsZero() {
		return nil, nil
	}
	if err := ValidateRatio(ratio); err != nil {
		return nil, err
	}

	var transfers []Transfer
	for i := range items {
		info := &items[i].Info
		amount := info.EligibleFeeAmount().Sub(items[i].ClaimedAmount).Mul(ratio).Floor()
		if !amount.IsPositive() {
			continue
		}
		if err := info.subtractFee(amount); err != nil {
			return nil, err
		}
		transfer, err := BuildTransfer(*info, holder, collector, &amount)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer)
	}
	return transfers, nil
}
