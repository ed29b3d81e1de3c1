package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/catalogfi/otc/pkg/escrow"
	"github.com/catalogfi/otc/pkg/otc"
)

// Call is the per request environment handed to a method.
type Call struct {
	Engine escrow.Engine
	Sender otc.Address
	Time   time.Time
}

// Env builds the engine call environment, failing for anonymous callers.
func (c Call) Env(funds otc.Coins) (escrow.Env, error) {
	if c.Sender == "" {
		return escrow.Env{}, fmt.Errorf("%w: sign in required", otc.ErrUnauthorized)
	}
	return escrow.Env{Sender: c.Sender, Funds: funds, Time: c.Time}, nil
}

type Method interface {
	Name() string
	Query(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error)
}

const (
	MethodCreatePosition              = "createPosition"
	MethodSettlePosition              = "settlePosition"
	MethodClaimPosition               = "claimPosition"
	MethodCancelPosition              = "cancelPosition"
	MethodGetPosition                 = "getPosition"
	MethodListPositions               = "listPositions"
	MethodListPositionsByOwner        = "listPositionsByOwner"
	MethodListPositionsByCounterparty = "listPositionsByCounterparty"
	MethodGetConfig                   = "getConfig"
	MethodUpdateFee                   = "updateFee"
)

type CreatePositionParams struct {
	Funds otc.Coins `json:"funds,omitempty"`
	escrow.CreatePosition
}

type SettlePositionParams struct {
	Funds otc.Coins `json:"funds,omitempty"`
	escrow.SettlePosition
}

// Methods returns every method served by the daemon.
func Methods() []Method {
	return []Method{
		createPosition{},
		settlePosition{},
		claimPosition{},
		cancelPosition{},
		getPosition{},
		listPositions{},
		listPositionsByOwner{},
		listPositionsByCounterparty{},
		getConfig{},
		updateFee{},
	}
}

func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

type createPosition struct{}

func (createPosition) Name() string {
	return MethodCreatePosition
}

func (createPosition) Query(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error) {
	var req CreatePositionParams
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	env, err := call.Env(req.Funds)
	if err != nil {
		return nil, err
	}
	resp, err := call.Engine.Create(ctx, env, req.CreatePosition)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

type settlePosition struct{}

func (settlePosition) Name() string {
	return MethodSettlePosition
}

func (settlePosition) Query(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error) {
	var req SettlePositionParams
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	env, err := call.Env(req.Funds)
	if err != nil {
		return nil, err
	}
	resp, err := call.Engine.Execute(ctx, env, req.SettlePosition)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

type claimPosition struct{}

func (claimPosition) Name() string {
	return MethodClaimPosition
}

func (claimPosition) Query(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error) {
	var req escrow.ClaimPosition
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	env, err := call.Env(nil)
	if err != nil {
		return nil, err
	}
	resp, err := call.Engine.Claim(ctx, env, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

type cancelPosition struct{}

func (cancelPosition) Name() string {
	return MethodCancelPosition
}

func (cancelPosition) Query(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error) {
	var req escrow.CancelPosition
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	env, err := call.Env(nil)
	if err != nil {
		return nil, err
	}
	resp, err := call.Engine.Cancel(ctx, env, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

type getPosition struct{}

func (getPosition) Name() string {
	return MethodGetPosition
}

func (getPosition) Query(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error) {
	var req escrow.GetPosition
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	position, err := call.Engine.Position(ctx, req.Partition, req.ID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(position)
}

type listPositions struct{}

func (listPositions) Name() string {
	return MethodListPositions
}

func (listPositions) Query(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error) {
	var req escrow.ListPositions
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	positions, err := call.Engine.Positions(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(positions)
}

type listPositionsByOwner struct{}

func (listPositionsByOwner) Name() string {
	return MethodListPositionsByOwner
}

func (listPositionsByOwner) Query(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error) {
	var req escrow.ListPositionsByOwner
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	positions, err := call.Engine.PositionsByOwner(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(positions)
}

type listPositionsByCounterparty struct{}

func (listPositionsByCounterparty) Name() string {
	return MethodListPositionsByCounterparty
}

func (listPositionsByCounterparty) Query(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error) {
	var req escrow.ListPositionsByCounterparty
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	positions, err := call.Engine.PositionsByCounterparty(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(positions)
}

type getConfig struct{}

func (getConfig) Name() string {
	return MethodGetConfig
}

func (getConfig) Query(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error) {
	cfg, err := call.Engine.Config(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cfg)
}

type updateFee struct{}

func (updateFee) Name() string {
	return MethodUpdateFee
}

func (updateFee) Query(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error) {
	var req otc.Fee
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	env, err := call.Env(nil)
	if err != nil {
		return nil, err
	}
	resp, err := call.Engine.UpdateFee(ctx, env, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}
