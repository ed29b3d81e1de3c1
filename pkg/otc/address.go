package otc

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// Address is a validated account or contract reference.
type Address string

func (addr Address) String() string {
	return string(addr)
}

// AddressValidator turns a raw user supplied string into an Address.
type AddressValidator interface {
	Validate(raw string) (Address, error)
}

type hexValidator struct{}

// NewHexValidator accepts 20-byte hex addresses and normalises them to their checksummed form.
func NewHexValidator() AddressValidator {
	return hexValidator{}
}

func (hexValidator) Validate(raw string) (Address, error) {
	if !common.IsHexAddress(raw) {
		return "", fmt.Errorf("%w: not a hex address: %q", ErrInvalidAddress, raw)
	}
	return Address(common.HexToAddress(raw).Hex()), nil
}

type bech32Validator struct {
	hrp string
}

// NewBech32Validator accepts bech32 addresses carrying the given human readable prefix.
func NewBech32Validator(hrp string) AddressValidator {
	return bech32Validator{hrp: strings.ToLower(hrp)}
}

func (v bech32Validator) Validate(raw string) (Address, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
	}
	if hrp != v.hrp {
		return "", fmt.Errorf("%w: prefix %q, expected %q", ErrInvalidAddress, hrp, v.hrp)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload: %q", ErrInvalidAddress, raw)
	}
	return Address(strings.ToLower(raw)), nil
}
