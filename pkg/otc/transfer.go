package otc

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Transfer is an abstract movement of one asset between two accounts. The host environment
// turns it into its own message primitive: a bank send for native coins, a transfer or
// transfer-from for fungible tokens and an ownership transfer for non-fungible tokens,
// depending on whether From is the escrow holder.
type Transfer struct {
	Asset ItemInfo `json:"asset"`
	From  Address  `json:"from"`
	To    Address  `json:"to"`
}

func (t Transfer) String() string {
	return fmt.Sprintf("%v: %v -> %v", t.Asset, t.From, t.To)
}

// BuildTransfer produces the instruction moving info from one account to another. A non-nil
// amount overrides the item amount; it is ignored for non-fungible items.
func BuildTransfer(info ItemInfo, from, to Address, amount *decimal.Decimal) (Transfer, error) {
	asset := info
	switch info.Kind {
	case AssetNative, AssetFungible:
		if amount != nil {
			asset.Amount = *amount
		}
	case AssetNonFungible:
		asset.Amount = decimal.NewFromInt(1)
	default:
		return Transfer{}, fmt.Errorf("%w: unknown asset kind %d", ErrInvalidItem, info.Kind)
	}
	return Transfer{Asset: asset, From: from, To: to}, nil
}

// Collect accounts for the deposit of infos by sender. Native items are paid out of the attached
// funds, which must contain at least the pledged amount of each denom. Tokens have no attached
// funds mechanism and get a pull instruction from sender to the given destination instead. The
// unconsumed part of funds is returned so callers can detect over-payment.
func Collect(infos []ItemInfo, sender, to Address, funds Coins) ([]Transfer, Coins, error) {
	balances, err := funds.Balances()
	if err != nil {
		return nil, nil, err
	}

	var transfers []Transfer
	for _, info := range infos {
		switch info.Kind {
		case AssetNative:
			available, ok := balances[info.Denom]
			if !ok {
				return nil, nil, fmt.Errorf("%w: coin not received: %v", ErrInsufficientFunds, info.Denom)
			}
			if info.Amount.GreaterThan(available) {
				return nil, nil, fmt.Errorf("%w: amount received for %v is too low: expected %v, received %v", ErrInsufficientFunds, info.Denom, info.Amount, available)
			}
			balances[info.Denom] = available.Sub(info.Amount)
		case AssetFungible, AssetNonFungible:
			transfer, err := BuildTransfer(info, sender, to, nil)
			if err != nil {
				return nil, nil, err
			}
			transfers = append(transfers, transfer)
		default:
			return nil, nil, fmt.Errorf("%w: unknown asset kind %d", ErrInvalidItem, info.Kind)
		}
	}
	return transfers, CoinsFromBalances(balances), nil
}

// SendAll builds transfers returning every info in full from one account to another.
func SendAll(infos []ItemInfo, from, to Address) ([]Transfer, error) {
	transfers := make([]Transfer, 0, len(infos))
	for _, info := range infos {
		transfer, err := BuildTransfer(info, from, to, nil)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer)
	}
	return transfers, nil
}
