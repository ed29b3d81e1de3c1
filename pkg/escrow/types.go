package escrow

import (
	"strconv"
	"time"

	"github.com/catalogfi/otc/pkg/otc"
	"github.com/catalogfi/otc/pkg/store"
)

// Env describes the inbound call: the caller identity already verified by the host, the native
// funds attached to the call and the logical time of the call.
type Env struct {
	Sender otc.Address `json:"sender"`
	Funds  otc.Coins   `json:"funds,omitempty"`
	Time   time.Time   `json:"time"`
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is what an operation hands back to the host: the transfers to apply atomically and
// descriptive attributes.
type Response struct {
	PositionID uint64         `json:"position_id,omitempty"`
	Transfers  []otc.Transfer `json:"transfers"`
	Attributes []Attribute    `json:"attributes"`
}

func (resp *Response) addTransfers(transfers ...[]otc.Transfer) {
	for _, t := range transfers {
		resp.Transfers = append(resp.Transfers, t...)
	}
}

func (resp *Response) addAttribute(key, value string) {
	resp.Attributes = append(resp.Attributes, Attribute{Key: key, Value: value})
}

// Attribute returns the value of the first attribute with the given key.
func (resp Response) Attribute(key string) (string, bool) {
	for _, attr := range resp.Attributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// ItemSpec is an item as submitted by a caller, before validation.
type ItemSpec struct {
	Info    otc.ItemInfo `json:"info"`
	Vesting *otc.Vesting `json:"vesting,omitempty"`
}

type CreatePosition struct {
	Counterparty *string    `json:"counterparty,omitempty"`
	Offer        []ItemSpec `json:"offer"`
	Ask          []ItemSpec `json:"ask"`
	Expiration   *time.Time `json:"expiration,omitempty"`
}

type SettlePosition struct {
	ID uint64 `json:"id"`
}

type ClaimPosition struct {
	ID uint64 `json:"id"`
}

type CancelPosition struct {
	ID uint64 `json:"id"`
}

type GetPosition struct {
	ID        uint64        `json:"id"`
	Partition otc.Partition `json:"partition,omitempty"`
}

type ListPositions struct {
	Partition otc.Partition `json:"partition,omitempty"`
	store.Page
}

type ListPositionsByOwner struct {
	Partition otc.Partition `json:"partition,omitempty"`
	Owner     string        `json:"owner"`
	store.Page
}

type ListPositionsByCounterparty struct {
	Partition    otc.Partition `json:"partition,omitempty"`
	Counterparty string        `json:"counterparty"`
	store.Page
}

func idString(id uint64) string {
	return strconv.FormatUint(id, 10)
}
