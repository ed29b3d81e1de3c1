package otc

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetKind tags the variant held by an ItemInfo.
type AssetKind uint8

const (
	AssetUnknown AssetKind = iota
	AssetNative
	AssetFungible
	AssetNonFungible
)

func (kind AssetKind) String() string {
	switch kind {
	case AssetNative:
		return "native"
	case AssetFungible:
		return "fungible"
	case AssetNonFungible:
		return "non_fungible"
	default:
		return "unknown"
	}
}

func ParseAssetKind(s string) (AssetKind, error) {
	switch strings.ToLower(s) {
	case "native":
		return AssetNative, nil
	case "fungible":
		return AssetFungible, nil
	case "non_fungible":
		return AssetNonFungible, nil
	default:
		return AssetUnknown, fmt.Errorf("%w: unknown asset kind %q", ErrInvalidItem, s)
	}
}

func (kind AssetKind) MarshalText() ([]byte, error) {
	if kind == AssetUnknown {
		return nil, fmt.Errorf("%w: unknown asset kind", ErrInvalidItem)
	}
	return []byte(kind.String()), nil
}

func (kind *AssetKind) UnmarshalText(text []byte) error {
	parsed, err := ParseAssetKind(string(text))
	if err != nil {
		return err
	}
	*kind = parsed
	return nil
}

// ItemInfo is a tagged union over the three asset kinds. Only the fields of the variant named by
// Kind are meaningful: Denom for native coins, Contract for fungible and non-fungible tokens and
// TokenID for non-fungible tokens. Non-fungible items always carry an Amount of one.
type ItemInfo struct {
	Kind     AssetKind       `json:"kind" yaml:"kind"`
	Denom    string          `json:"denom,omitempty" yaml:"denom,omitempty"`
	Contract Address         `json:"contract,omitempty" yaml:"contract,omitempty"`
	TokenID  string          `json:"token_id,omitempty" yaml:"token_id,omitempty"`
	Amount   decimal.Decimal `json:"amount" yaml:"amount"`
}

func Native(denom string, amount decimal.Decimal) ItemInfo {
	return ItemInfo{Kind: AssetNative, Denom: denom, Amount: amount}
}

func Fungible(contract Address, amount decimal.Decimal) ItemInfo {
	return ItemInfo{Kind: AssetFungible, Contract: contract, Amount: amount}
}

func NonFungible(contract Address, tokenID string) ItemInfo {
	return ItemInfo{Kind: AssetNonFungible, Contract: contract, TokenID: tokenID, Amount: decimal.NewFromInt(1)}
}

func (info ItemInfo) String() string {
	switch info.Kind {
	case AssetNative:
		return info.Amount.String() + info.Denom
	case AssetFungible:
		return info.Amount.String() + ":" + info.Contract.String()
	case AssetNonFungible:
		return info.Contract.String() + "#" + info.TokenID
	default:
		return "unknown"
	}
}

// Validate checks the variant fields and resolves the holding contract address through v. It
// returns the normalised item.
func (info ItemInfo) Validate(v AddressValidator) (ItemInfo, error) {
	switch info.Kind {
	case AssetNative:
		if info.Denom == "" {
			return ItemInfo{}, fmt.Errorf("%w: native item without denom", ErrInvalidItem)
		}
		if err := checkAmount(info.Amount); err != nil {
			return ItemInfo{}, fmt.Errorf("%v: %w", info.Denom, err)
		}
		return Native(info.Denom, info.Amount), nil
	case AssetFungible:
		contract, err := v.Validate(info.Contract.String())
		if err != nil {
			return ItemInfo{}, err
		}
		if err := checkAmount(info.Amount); err != nil {
			return ItemInfo{}, fmt.Errorf("%v: %w", contract, err)
		}
		return Fungible(contract, info.Amount), nil
	case AssetNonFungible:
		contract, err := v.Validate(info.Contract.String())
		if err != nil {
			return ItemInfo{}, err
		}
		if info.TokenID == "" {
			return ItemInfo{}, fmt.Errorf("%w: %v: missing token id", ErrInvalidItem, contract)
		}
		return NonFungible(contract, info.TokenID), nil
	default:
		return ItemInfo{}, fmt.Errorf("%w: unknown asset kind %d", ErrInvalidItem, info.Kind)
	}
}

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.IsInteger() {
		return fmt.Errorf("%w: amount must be a positive integer, got %v", ErrInvalidItem, amount)
	}
	return nil
}

// EligibleFeeAmount is the part of the item a proportional fee may be taken from.
func (info ItemInfo) EligibleFeeAmount() decimal.Decimal {
	switch info.Kind {
	case AssetNative, AssetFungible:
		return info.Amount
	default:
		return decimal.Zero
	}
}

func (info *ItemInfo) subtractFee(fee decimal.Decimal) error {
	switch info.Kind {
	case AssetNative, AssetFungible:
		if fee.GreaterThan(info.Amount) {
			return fmt.Errorf("%w: fee %v exceeds amount %v", ErrInvalidFeeConfiguration, fee, info.Amount)
		}
		info.Amount = info.Amount.Sub(fee)
		return nil
	default:
		return fmt.Errorf("%w: %v is not fee-able", ErrInvalidItem, info.Kind)
	}
}

// Vesting describes a linear release schedule relative to the settlement time. Nothing unlocks
// during the first Cliff seconds, then the amount unlocks linearly over Duration seconds.
type Vesting struct {
	Cliff    uint64 `json:"cliff" yaml:"cliff"`
	Duration uint64 `json:"duration" yaml:"duration"`
}

// MaxVestingSeconds is the longest schedule whose end still fits a time.Duration.
const MaxVestingSeconds = uint64(math.MaxInt64 / int64(time.Second))

// Validate rejects schedules ending beyond MaxVestingSeconds after settlement.
func (v Vesting) Validate() error {
	if v.Cliff > MaxVestingSeconds || v.Duration > MaxVestingSeconds || v.Cliff+v.Duration > MaxVestingSeconds {
		return fmt.Errorf("%w: vesting of %d+%d seconds exceeds %d", ErrInvalidItem, v.Cliff, v.Duration, MaxVestingSeconds)
	}
	return nil
}

// Item is one pledge of a position side together with its claim progress.
type Item struct {
	Info          ItemInfo        `json:"info"`
	Vesting       *Vesting        `json:"vesting,omitempty"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
}

func NewItem(info ItemInfo, vesting *Vesting) Item {
	return Item{Info: info, Vesting: vesting, ClaimedAmount: decimal.Zero}
}

func (item Item) Validate(v AddressValidator) (Item, error) {
	info, err := item.Info.Validate(v)
	if err != nil {
		return Item{}, err
	}
	out := NewItem(info, nil)
	if item.Vesting != nil {
		if err := item.Vesting.Validate(); err != nil {
			return Item{}, err
		}
		vesting := *item.Vesting
		out.Vesting = &vesting
	}
	return out, nil
}

// Remaining is the amount not yet disbursed.
func (item Item) Remaining() decimal.Decimal {
	return item.Info.Amount.Sub(item.ClaimedAmount)
}

func (item Item) FullyClaimed() bool {
	return !item.Remaining().IsPositive()
}

// Infos returns the asset descriptions of the items.
func Infos(items []Item) []ItemInfo {
	infos := make([]ItemInfo, 0, len(items))
	for _, item := range items {
		infos = append(infos, item.Info)
	}
	return infos
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = item
		if item.Vesting != nil {
			vesting := *item.Vesting
			out[i].Vesting = &vesting
		}
	}
	return out
}
