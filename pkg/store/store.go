package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/catalogfi/otc/pkg/otc"
)

var ErrConfigNotFound = errors.New("config not initialised")

const (
	DefaultLimit = 10
	MaxLimit     = 30
)

// Config is the process wide aggregate. Counter is the last position id handed out.
type Config struct {
	Owner   otc.Address `json:"owner"`
	Counter uint64      `json:"counter"`
}

// NextID advances the counter and returns the new position id.
func (cfg *Config) NextID() uint64 {
	cfg.Counter++
	return cfg.Counter
}

type Order uint8

const (
	Ascending Order = iota
	Descending
)

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("unknown order %q", s)
	}
}

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

func (o Order) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Order) UnmarshalText(text []byte) error {
	parsed, err := ParseOrder(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Page selects a window of a primary key ordered scan. StartAfter is exclusive.
type Page struct {
	Order      Order   `json:"order"`
	Limit      uint32  `json:"limit,omitempty"`
	StartAfter *uint64 `json:"start_after,omitempty"`
}

// Size is the effective number of results, applying the default and the cap.
func (p Page) Size() int {
	switch {
	case p.Limit == 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return int(p.Limit)
	}
}

type Reader interface {
	// Config returns the config aggregate, ErrConfigNotFound before initialisation.
	Config() (Config, error)

	// Position loads a position from the partition, otc.ErrNotFound when absent.
	Position(partition otc.Partition, id uint64) (otc.Position, error)

	Positions(partition otc.Partition, page Page) ([]otc.Position, error)

	PositionsByOwner(partition otc.Partition, owner otc.Address, page Page) ([]otc.Position, error)

	// PositionsByCounterparty lists positions restricted to counterparty. Open positions are
	// indexed under the empty key and never match a concrete address.
	PositionsByCounterparty(partition otc.Partition, counterparty otc.Address, page Page) ([]otc.Position, error)
}

type Tx interface {
	Reader

	SaveConfig(cfg Config) error

	// Save inserts or replaces the position and its index entries.
	Save(partition otc.Partition, position otc.Position) error

	// Remove deletes the position and its index entries, otc.ErrNotFound when absent.
	Remove(partition otc.Partition, id uint64) error
}

type Store interface {
	// Atomic runs fn in a transaction. Every write made through the Tx is discarded when fn
	// returns an error.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn against a read only snapshot.
	View(ctx context.Context, fn func(r Reader) error) error

	Close() error
}
