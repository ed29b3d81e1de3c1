package otc

import "errors"

var (
	ErrNotFound                = errors.New("position not found")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidState            = errors.New("invalid position state")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrExtraFundsReceived      = errors.New("extra funds received")
	ErrInvalidAddress          = errors.New("invalid address")
	ErrInvalidFeeConfiguration = errors.New("invalid fee configuration")
	ErrNothingToClaim          = errors.New("nothing to claim")
	ErrExpired                 = errors.New("position expired")
	ErrInvalidItem             = errors.New("invalid item")
)
