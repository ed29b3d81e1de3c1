package otc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Coin is an amount of native currency attached to a call.
type Coin struct {
	Denom  string          `json:"denom" yaml:"denom"`
	Amount decimal.Decimal `json:"amount" yaml:"amount"`
}

func NewCoin(denom string, amount int64) Coin {
	return Coin{Denom: denom, Amount: decimal.NewFromInt(amount)}
}

func (c Coin) String() string {
	return c.Amount.String() + c.Denom
}

// Coins is a list of native funds. It is not required to be sorted or deduplicated.
type Coins []Coin

func (coins Coins) String() string {
	parts := make([]string, 0, len(coins))
	for _, c := range coins {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}

// Balances merges the coins by denom. Negative or fractional amounts are rejected.
func (coins Coins) Balances() (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal, len(coins))
	for _, c := range coins {
		if c.Denom == "" {
			return nil, fmt.Errorf("%w: coin without denom", ErrInsufficientFunds)
		}
		if c.Amount.IsNegative() || !c.Amount.IsInteger() {
			return nil, fmt.Errorf("%w: bad amount %v for %v", ErrInsufficientFunds, c.Amount, c.Denom)
		}
		if prev, ok := balances[c.Denom]; ok {
			balances[c.Denom] = prev.Add(c.Amount)
		} else {
			balances[c.Denom] = c.Amount
		}
	}
	return balances, nil
}

// CoinsFromBalances converts a balance map back to a denom-sorted list, dropping zero entries.
func CoinsFromBalances(balances map[string]decimal.Decimal) Coins {
	coins := make(Coins, 0, len(balances))
	for denom, amount := range balances {
		if amount.IsPositive() {
			coins = append(coins, Coin{Denom: denom, Amount: amount})
		}
	}
	sort.Slice(coins, func(i, j int) bool {
		return coins[i].Denom < coins[j].Denom
	})
	return coins
}
