package otc

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unlocked returns how much of the item has vested at now for a position settled at executedAt.
// The schedule is evaluated in whole seconds.
func (item Item) Unlocked(executedAt, now time.Time) decimal.Decimal {
	amount := item.Info.Amount
	if item.Vesting == nil {
		return amount
	}
	if now.Before(executedAt) {
		return decimal.Zero
	}
	elapsed := uint64(now.Sub(executedAt) / time.Second)
	if elapsed < item.Vesting.Cliff {
		return decimal.Zero
	}
	vested := elapsed - item.Vesting.Cliff
	if vested >= item.Vesting.Duration {
		return amount
	}
	if item.Info.Kind == AssetNonFungible {
		return decimal.Zero
	}
	unlocked, _ := amount.Mul(decimal.NewFromUint64(vested)).QuoRem(decimal.NewFromUint64(item.Vesting.Duration), 0)
	return unlocked
}

// SendableAmountAndAdvanceClaim returns the part of the item releasable under status at now and
// records it as claimed. A second call without elapsed time returns zero.
func (item *Item) SendableAmountAndAdvanceClaim(status Status, now time.Time) decimal.Decimal {
	var releasable decimal.Decimal
	switch status.Kind {
	case StatusExecuted:
		releasable = item.Info.Amount
	case StatusVesting:
		if status.ExecutedAt == nil {
			return decimal.Zero
		}
		releasable = item.Unlocked(*status.ExecutedAt, now)
	default:
		return decimal.Zero
	}
	releasable = decimal.Min(releasable, item.Info.Amount)

	amount := releasable.Sub(item.ClaimedAmount)
	if !amount.IsPositive() {
		return decimal.Zero
	}
	item.ClaimedAmount = item.ClaimedAmount.Add(amount)
	return amount
}

// Release advances the claim of every item and returns the transfers paying the released amounts
// from holder to to.
func Release(items []Item, status Status, now time.Time, holder, to Address) ([]Transfer, error) {
	var transfers []Transfer
	for i := range items {
		amount := items[i].SendableAmountAndAdvanceClaim(status, now)
		if !amount.IsPositive() {
			continue
		}
		transfer, err := BuildTransfer(items[i].Info, holder, to, &amount)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer)
	}
	return transfers, nil
}
