package otcctl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/catalogfi/otc/pkg/escrow"
	"github.com/catalogfi/otc/pkg/otc"
	"github.com/shopspring/decimal"
)

// ParseItem parses kind:target:value[:cliff:duration], where target is a denom for native coins
// and a contract address otherwise, and value is an amount or, for nft, a token id.
func ParseItem(raw string) (escrow.ItemSpec, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 && len(parts) != 5 {
		return escrow.ItemSpec{}, fmt.Errorf("item %q: expected kind:target:value[:cliff:duration]", raw)
	}

	var spec escrow.ItemSpec
	switch parts[0] {
	case "native", "fungible":
		amount, err := decimal.NewFromString(parts[2])
		if err != nil {
			return escrow.ItemSpec{}, fmt.Errorf("item %q: %w", raw, err)
		}
		if parts[0] == "native" {
			spec.Info = otc.Native(parts[1], amount)
		} else {
			spec.Info = otc.Fungible(otc.Address(parts[1]), amount)
		}
	case "nft", "non_fungible":
		spec.Info = otc.NonFungible(otc.Address(parts[1]), parts[2])
	default:
		return escrow.ItemSpec{}, fmt.Errorf("item %q: unknown kind %q", raw, parts[0])
	}

	if len(parts) == 5 {
		cliff, err := strconv.ParseUint(parts[3], 10, 64)
		if err != nil {
			return escrow.ItemSpec{}, fmt.Errorf("item %q: cliff: %w", raw, err)
		}
		duration, err := strconv.ParseUint(parts[4], 10, 64)
		if err != nil {
			return escrow.ItemSpec{}, fmt.Errorf("item %q: duration: %w", raw, err)
		}
		spec.Vesting = &otc.Vesting{Cliff: cliff, Duration: duration}
	}
	return spec, nil
}

func ParseItems(raws []string) ([]escrow.ItemSpec, error) {
	specs := make([]escrow.ItemSpec, 0, len(raws))
	for _, raw := range raws {
		spec, err := ParseItem(raw)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ParseFunds parses denom:amount pairs.
func ParseFunds(raws []string) (otc.Coins, error) {
	coins := make(otc.Coins, 0, len(raws))
	for _, raw := range raws {
		denom, amount, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, fmt.Errorf("funds %q: expected denom:amount", raw)
		}
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("funds %q: %w", raw, err)
		}
		coins = append(coins, otc.Coin{Denom: denom, Amount: value})
	}
	return coins, nil
}
