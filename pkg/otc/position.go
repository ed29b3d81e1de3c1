package otc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Partition names the storage partition a position lives in.
type Partition uint8

const (
	PartitionActive Partition = iota + 1
	PartitionExecuted
)

func (p Partition) String() string {
	switch p {
	case PartitionActive:
		return "active"
	case PartitionExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

func ParsePartition(s string) (Partition, error) {
	switch strings.ToLower(s) {
	case "", "active":
		return PartitionActive, nil
	case "executed":
		return PartitionExecuted, nil
	default:
		return 0, fmt.Errorf("unknown partition %q", s)
	}
}

func (p Partition) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Partition) UnmarshalText(text []byte) error {
	parsed, err := ParsePartition(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Counterparty is either open, letting any caller settle the position, or fixed to a single
// address. The zero value is open.
type Counterparty struct {
	addr Address
}

func OpenCounterparty() Counterparty {
	return Counterparty{}
}

func FixedCounterparty(addr Address) Counterparty {
	return Counterparty{addr: addr}
}

// Fixed returns the required address and true, or false for an open counterparty.
func (c Counterparty) Fixed() (Address, bool) {
	return c.addr, c.addr != ""
}

func (c Counterparty) IsOpen() bool {
	return c.addr == ""
}

// Permits reports whether caller may act as the counterparty.
func (c Counterparty) Permits(caller Address) bool {
	if addr, ok := c.Fixed(); ok {
		return addr == caller
	}
	return true
}

// IndexKey is the secondary index key; open counterparties use the empty sentinel.
func (c Counterparty) IndexKey() string {
	return string(c.addr)
}

func (c Counterparty) String() string {
	if addr, ok := c.Fixed(); ok {
		return addr.String()
	}
	return "open"
}

func (c Counterparty) MarshalJSON() ([]byte, error) {
	if addr, ok := c.Fixed(); ok {
		return json.Marshal(addr)
	}
	return []byte("null"), nil
}

func (c *Counterparty) UnmarshalJSON(data []byte) error {
	var addr *Address
	if err := json.Unmarshal(data, &addr); err != nil {
		return err
	}
	if addr == nil {
		*c = OpenCounterparty()
	} else {
		*c = FixedCounterparty(*addr)
	}
	return nil
}

// StatusKind tags the lifecycle stage held by a Status.
type StatusKind uint8

const (
	StatusPending StatusKind = iota + 1
	StatusVesting
	StatusExecuted
)

func (kind StatusKind) String() string {
	switch kind {
	case StatusPending:
		return "pending"
	case StatusVesting:
		return "vesting"
	case StatusExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

func (kind StatusKind) MarshalText() ([]byte, error) {
	return []byte(kind.String()), nil
}

func (kind *StatusKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*kind = StatusPending
	case "vesting":
		*kind = StatusVesting
	case "executed":
		*kind = StatusExecuted
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// Status is the lifecycle state of a position. ExecutedAt is set once the position settled and
// anchors the vesting schedules; OfferClaimed and AskClaimed record per-side claim progress while
// vesting; ClosedAt is set once every item has been disbursed.
type Status struct {
	Kind         StatusKind `json:"kind"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	OfferClaimed bool       `json:"offer_claimed,omitempty"`
	AskClaimed   bool       `json:"ask_claimed,omitempty"`
}

func PendingStatus() Status {
	return Status{Kind: StatusPending}
}

func VestingStatus(executedAt time.Time, offerClaimed, askClaimed bool) Status {
	return Status{Kind: StatusVesting, ExecutedAt: &executedAt, OfferClaimed: offerClaimed, AskClaimed: askClaimed}
}

func ExecutedStatus(executedAt, closedAt time.Time) Status {
	return Status{Kind: StatusExecuted, ExecutedAt: &executedAt, ClosedAt: &closedAt, OfferClaimed: true, AskClaimed: true}
}

func (s Status) String() string {
	return s.Kind.String()
}

// Position is one escrow pairing the owner's offer with the asked items.
type Position struct {
	ID             uint64       `json:"id"`
	Owner          Address      `json:"owner"`
	Counterparty   Counterparty `json:"counterparty"`
	Offer          []Item       `json:"offer"`
	Ask            []Item       `json:"ask"`
	Status         Status       `json:"status"`
	ExpirationTime *time.Time   `json:"expiration_time,omitempty"`
}

// Partition is where the position is stored given its status.
func (p Position) Partition() Partition {
	if p.Status.Kind == StatusExecuted {
		return PartitionExecuted
	}
	return PartitionActive
}

func (p Position) Expired(now time.Time) bool {
	return p.ExpirationTime != nil && !now.Before(*p.ExpirationTime)
}

// Activate checks that caller may settle the position at now and binds an open counterparty to
// caller.
func (p *Position) Activate(caller Address, now time.Time) error {
	if p.Status.Kind != StatusPending {
		return fmt.Errorf("%w: position %d is %v", ErrInvalidState, p.ID, p.Status)
	}
	if p.Expired(now) {
		return fmt.Errorf("%w: position %d expired at %v", ErrExpired, p.ID, p.ExpirationTime.UTC())
	}
	if !p.Counterparty.Permits(caller) {
		return fmt.Errorf("%w: %v is not the counterparty of position %d", ErrUnauthorized, caller, p.ID)
	}
	p.Counterparty = FixedCounterparty(caller)
	p.Status = VestingStatus(now, false, false)
	return nil
}

// TryClose recomputes the status after a disbursement. The position becomes Executed once every
// item of both sides has been fully claimed.
func (p *Position) TryClose(now time.Time) error {
	if p.Status.ExecutedAt == nil {
		return fmt.Errorf("%w: position %d has not been executed", ErrInvalidState, p.ID)
	}
	offerDone := allClaimed(p.Offer)
	askDone := allClaimed(p.Ask)
	if offerDone && askDone {
		p.Status = ExecutedStatus(*p.Status.ExecutedAt, now)
		return nil
	}
	p.Status = VestingStatus(*p.Status.ExecutedAt, offerDone, askDone)
	return nil
}

func allClaimed(items []Item) bool {
	for _, item := range items {
		if !item.FullyClaimed() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the position.
func (p Position) Clone() Position {
	out := p
	out.Offer = cloneItems(p.Offer)
	out.Ask = cloneItems(p.Ask)
	if p.Status.ExecutedAt != nil {
		t := *p.Status.ExecutedAt
		out.Status.ExecutedAt = &t
	}
	if p.Status.ClosedAt != nil {
		t := *p.Status.ClosedAt
		out.Status.ClosedAt = &t
	}
	if p.ExpirationTime != nil {
		t := *p.ExpirationTime
		out.ExpirationTime = &t
	}
	return out
}
