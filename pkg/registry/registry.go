package registry

import (
	"context"

	"github.com/catalogfi/otc/pkg/otc"
)

// Keys under which the fee policy is registered in a variable provider.
const (
	KeyFeeCollector   = "fee_collector_addr"
	KeyPerformanceFee = "performance_fee"
	KeyFlatFee        = "flat_fee"
)

// FeeResolver resolves the fee policy applied to a settlement. Resolution failures abort the
// operation that asked for the fee.
type FeeResolver interface {
	ResolveFee(ctx context.Context) (otc.Fee, error)
}

type static struct {
	fee otc.Fee
}

// NewStatic returns a resolver always answering with the given fee, validated once up front.
func NewStatic(fee otc.Fee, validator otc.AddressValidator) (FeeResolver, error) {
	valid, err := fee.Validate(validator)
	if err != nil {
		return nil, err
	}
	return static{fee: valid}, nil
}

func (s static) ResolveFee(ctx context.Context) (otc.Fee, error) {
	return s.fee, ctx.Err()
}

// FeeUpdater is implemented by resolvers whose fee policy can be changed at runtime.
type FeeUpdater interface {
	FeeResolver
	SetFee(ctx context.Context, fee otc.Fee) error
}
