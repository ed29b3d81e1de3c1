package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/catalogfi/otc/pkg/otc"
	"github.com/catalogfi/otc/pkg/registry"
	"github.com/catalogfi/otc/pkg/store"
	"go.uber.org/zap"
)

const (
	ActionInstantiate = "instantiate"
	ActionCreate      = "create_position"
	ActionExecute     = "execute_position"
	ActionClaim       = "claim"
	ActionCancel      = "cancel_position"
	ActionUpdateFee   = "update_fee"

	afterActionStatusChange = "position_status_change"
)

// Observer receives the outcome of every state changing operation.
type Observer interface {
	Observe(operation string, started time.Time, transfers []otc.Transfer, err error)
}

type Engine interface {
	// Instantiate records the owner of the deployment. It can only be called once.
	Instantiate(ctx context.Context, owner string) (Response, error)

	Create(ctx context.Context, env Env, msg CreatePosition) (Response, error)
	Execute(ctx context.Context, env Env, msg SettlePosition) (Response, error)
	Claim(ctx context.Context, env Env, msg ClaimPosition) (Response, error)
	Cancel(ctx context.Context, env Env, msg CancelPosition) (Response, error)

	Position(ctx context.Context, partition otc.Partition, id uint64) (otc.Position, error)
	Positions(ctx context.Context, msg ListPositions) ([]otc.Position, error)
	PositionsByOwner(ctx context.Context, msg ListPositionsByOwner) ([]otc.Position, error)
	PositionsByCounterparty(ctx context.Context, msg ListPositionsByCounterparty) ([]otc.Position, error)
	Config(ctx context.Context) (store.Config, error)

	// UpdateFee replaces the fee policy. Only the owner may call it and the fee resolver must
	// support updates.
	UpdateFee(ctx context.Context, env Env, fee otc.Fee) (Response, error)
}

type engine struct {
	store     store.Store
	fees      registry.FeeResolver
	validator otc.AddressValidator
	holder    otc.Address
	logger    *zap.Logger
	observer  Observer
}

type noopObserver struct{}

func (noopObserver) Observe(string, time.Time, []otc.Transfer, error) {}

// New returns an engine holding escrowed assets under holder. observer may be nil.
func New(st store.Store, fees registry.FeeResolver, validator otc.AddressValidator, holder otc.Address, logger *zap.Logger, observer Observer) (Engine, error) {
	holder, err := validator.Validate(holder.String())
	if err != nil {
		return nil, fmt.Errorf("escrow holder: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &engine{
		store:     st,
		fees:      fees,
		validator: validator,
		holder:    holder,
		logger:    logger,
		observer:  observer,
	}, nil
}

func (e *engine) Instantiate(ctx context.Context, owner string) (resp Response, err error) {
	defer e.observe(ActionInstantiate, time.Now(), &resp, &err)

	addr, err := e.validator.Validate(owner)
	if err != nil {
		return Response{}, err
	}
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		_, err := tx.Config()
		switch {
		case err == nil:
			return fmt.Errorf("%w: already instantiated", otc.ErrInvalidState)
		case !errors.Is(err, store.ErrConfigNotFound):
			return err
		}
		return tx.SaveConfig(store.Config{Owner: addr})
	})
	if err != nil {
		return Response{}, err
	}
	resp.addAttribute("action", ActionInstantiate)
	resp.addAttribute("owner", addr.String())
	return resp, nil
}

func (e *engine) Create(ctx context.Context, env Env, msg CreatePosition) (resp Response, err error) {
	defer e.observe(ActionCreate, time.Now(), &resp, &err)

	sender, err := e.sender(env)
	if err != nil {
		return Response{}, err
	}
	position, err := e.newPosition(sender, msg, env.Time)
	if err != nil {
		return Response{}, err
	}

	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		position.ID = cfg.NextID()

		deposits, remaining, err := otc.Collect(otc.Infos(position.Offer), sender, e.holder, env.Funds)
		if err != nil {
			return err
		}
		fee, err := e.fees.ResolveFee(ctx)
		if err != nil {
			return err
		}
		flat, err := e.collectFlatFee(fee, sender, remaining)
		if err != nil {
			return err
		}

		if err := tx.SaveConfig(cfg); err != nil {
			return err
		}
		if err := tx.Save(otc.PartitionActive, position); err != nil {
			return err
		}
		resp.addTransfers(deposits, flat)
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	resp.PositionID = position.ID
	resp.addAttribute("action", ActionCreate)
	resp.addAttribute("id", idString(position.ID))
	resp.addAttribute("owner", position.Owner.String())
	resp.addAttribute("counterparty", position.Counterparty.String())
	e.logger.Info("position created",
		zap.Uint64("id", position.ID),
		zap.String("owner", position.Owner.String()),
		zap.String("counterparty", position.Counterparty.String()))
	return resp, nil
}

func (e *engine) Execute(ctx context.Context, env Env, msg SettlePosition) (resp Response, err error) {
	defer e.observe(ActionExecute, time.Now(), &resp, &err)

	sender, err := e.sender(env)
	if err != nil {
		return Response{}, err
	}

	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		position, err := e.activePosition(tx, msg.ID)
		if err != nil {
			return err
		}
		pre := position.Status
		if err := position.Activate(sender, env.Time); err != nil {
			return err
		}

		deposits, remaining, err := otc.Collect(otc.Infos(position.Ask), sender, e.holder, env.Funds)
		if err != nil {
			return err
		}
		fee, err := e.fees.ResolveFee(ctx)
		if err != nil {
			return err
		}
		flat, err := e.collectFlatFee(fee, sender, remaining)
		if err != nil {
			return err
		}

		askFee, err := otc.ApplyFee(position.Ask, fee.Ratio, e.holder, fee.Collector)
		if err != nil {
			return err
		}
		offerFee, err := otc.ApplyFee(position.Offer, fee.Ratio, e.holder, fee.Collector)
		if err != nil {
			return err
		}

		toOwner, err := otc.Release(position.Ask, position.Status, env.Time, e.holder, position.Owner)
		if err != nil {
			return err
		}
		toExecutor, err := otc.Release(position.Offer, position.Status, env.Time, e.holder, sender)
		if err != nil {
			return err
		}

		attrs, err := e.afterAction(tx, &position, pre, env.Time)
		if err != nil {
			return err
		}
		resp.addTransfers(deposits, flat, askFee, offerFee, toOwner, toExecutor)
		resp.Attributes = append(resp.Attributes, attrs...)
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	resp.PositionID = msg.ID
	resp.Attributes = append([]Attribute{
		{Key: "action", Value: ActionExecute},
		{Key: "id", Value: idString(msg.ID)},
		{Key: "executor", Value: sender.String()},
	}, resp.Attributes...)
	e.logger.Info("position executed", zap.Uint64("id", msg.ID), zap.String("executor", sender.String()))
	return resp, nil
}

func (e *engine) Claim(ctx context.Context, env Env, msg ClaimPosition) (resp Response, err error) {
	defer e.observe(ActionClaim, time.Now(), &resp, &err)

	sender, err := e.sender(env)
	if err != nil {
		return Response{}, err
	}

	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		position, err := e.activePosition(tx, msg.ID)
		if err != nil {
			return err
		}
		if position.Status.Kind != otc.StatusVesting {
			return fmt.Errorf("%w: position %d is %v", otc.ErrInvalidState, position.ID, position.Status)
		}
		pre := position.Status

		var transfers []otc.Transfer
		authorized := false
		if sender == position.Owner {
			authorized = true
			released, err := otc.Release(position.Ask, position.Status, env.Time, e.holder, position.Owner)
			if err != nil {
				return err
			}
			transfers = append(transfers, released...)
		}
		if executor, ok := position.Counterparty.Fixed(); ok && sender == executor {
			authorized = true
			released, err := otc.Release(position.Offer, position.Status, env.Time, e.holder, executor)
			if err != nil {
				return err
			}
			transfers = append(transfers, released...)
		}
		if !authorized {
			return fmt.Errorf("%w: %v is not a party of position %d", otc.ErrUnauthorized, sender, position.ID)
		}
		if len(transfers) == 0 {
			return fmt.Errorf("%w: position %d", otc.ErrNothingToClaim, position.ID)
		}

		attrs, err := e.afterAction(tx, &position, pre, env.Time)
		if err != nil {
			return err
		}
		resp.addTransfers(transfers)
		resp.Attributes = append(resp.Attributes, attrs...)
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	resp.PositionID = msg.ID
	resp.Attributes = append([]Attribute{
		{Key: "action", Value: ActionClaim},
		{Key: "id", Value: idString(msg.ID)},
		{Key: "user", Value: sender.String()},
	}, resp.Attributes...)
	e.logger.Info("position claimed", zap.Uint64("id", msg.ID), zap.String("user", sender.String()), zap.Int("transfers", len(resp.Transfers)))
	return resp, nil
}

func (e *engine) Cancel(ctx context.Context, env Env, msg CancelPosition) (resp Response, err error) {
	defer e.observe(ActionCancel, time.Now(), &resp, &err)

	sender, err := e.sender(env)
	if err != nil {
		return Response{}, err
	}

	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		position, err := e.activePosition(tx, msg.ID)
		if err != nil {
			return err
		}
		if sender != position.Owner {
			return fmt.Errorf("%w: %v is not the owner of position %d", otc.ErrUnauthorized, sender, position.ID)
		}
		if position.Status.Kind != otc.StatusPending {
			return fmt.Errorf("%w: position %d is %v", otc.ErrInvalidState, position.ID, position.Status)
		}

		refunds, err := otc.SendAll(otc.Infos(position.Offer), e.holder, position.Owner)
		if err != nil {
			return err
		}
		if err := tx.Remove(otc.PartitionActive, position.ID); err != nil {
			return err
		}
		resp.addTransfers(refunds)
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	resp.PositionID = msg.ID
	resp.addAttribute("action", ActionCancel)
	resp.addAttribute("id", idString(msg.ID))
	e.logger.Info("position cancelled", zap.Uint64("id", msg.ID))
	return resp, nil
}

func (e *engine) Position(ctx context.Context, partition otc.Partition, id uint64) (position otc.Position, err error) {
	if partition == 0 {
		partition = otc.PartitionActive
	}
	err = e.store.View(ctx, func(r store.Reader) error {
		position, err = r.Position(partition, id)
		return err
	})
	return position, err
}

func (e *engine) Positions(ctx context.Context, msg ListPositions) (positions []otc.Position, err error) {
	partition := defaultPartition(msg.Partition)
	err = e.store.View(ctx, func(r store.Reader) error {
		positions, err = r.Positions(partition, msg.Page)
		return err
	})
	return positions, err
}

func (e *engine) PositionsByOwner(ctx context.Context, msg ListPositionsByOwner) (positions []otc.Position, err error) {
	owner, err := e.validator.Validate(msg.Owner)
	if err != nil {
		return nil, err
	}
	partition := defaultPartition(msg.Partition)
	err = e.store.View(ctx, func(r store.Reader) error {
		positions, err = r.PositionsByOwner(partition, owner, msg.Page)
		return err
	})
	return positions, err
}

func (e *engine) PositionsByCounterparty(ctx context.Context, msg ListPositionsByCounterparty) (positions []otc.Position, err error) {
	counterparty, err := e.validator.Validate(msg.Counterparty)
	if err != nil {
		return nil, err
	}
	partition := defaultPartition(msg.Partition)
	err = e.store.View(ctx, func(r store.Reader) error {
		positions, err = r.PositionsByCounterparty(partition, counterparty, msg.Page)
		return err
	})
	return positions, err
}

func (e *engine) Config(ctx context.Context) (cfg store.Config, err error) {
	err = e.store.View(ctx, func(r store.Reader) error {
		cfg, err = r.Config()
		return err
	})
	return cfg, err
}

func (e *engine) UpdateFee(ctx context.Context, env Env, fee otc.Fee) (resp Response, err error) {
	defer e.observe(ActionUpdateFee, time.Now(), &resp, &err)

	sender, err := e.sender(env)
	if err != nil {
		return Response{}, err
	}
	updater, ok := e.fees.(registry.FeeUpdater)
	if !ok {
		return Response{}, fmt.Errorf("%w: fee registry is read only", otc.ErrInvalidFeeConfiguration)
	}
	cfg, err := e.Config(ctx)
	if err != nil {
		return Response{}, err
	}
	if sender != cfg.Owner {
		return Response{}, fmt.Errorf("%w: %v is not the owner", otc.ErrUnauthorized, sender)
	}
	if err := updater.SetFee(ctx, fee); err != nil {
		return Response{}, err
	}

	resp.addAttribute("action", ActionUpdateFee)
	resp.addAttribute("performance_fee", fee.Ratio.String())
	resp.addAttribute("fee_collector", fee.Collector.String())
	e.logger.Info("fee updated", zap.String("ratio", fee.Ratio.String()), zap.String("collector", fee.Collector.String()))
	return resp, nil
}

// sender normalises the verified caller so it compares equal to stored addresses.
func (e *engine) sender(env Env) (otc.Address, error) {
	if env.Sender == "" {
		return "", fmt.Errorf("%w: missing sender", otc.ErrUnauthorized)
	}
	return e.validator.Validate(env.Sender.String())
}

func (e *engine) newPosition(owner otc.Address, msg CreatePosition, now time.Time) (otc.Position, error) {
	offer, err := e.items("offer", msg.Offer)
	if err != nil {
		return otc.Position{}, err
	}
	ask, err := e.items("ask", msg.Ask)
	if err != nil {
		return otc.Position{}, err
	}

	counterparty := otc.OpenCounterparty()
	if msg.Counterparty != nil {
		addr, err := e.validator.Validate(*msg.Counterparty)
		if err != nil {
			return otc.Position{}, err
		}
		counterparty = otc.FixedCounterparty(addr)
	}

	var expiration *time.Time
	if msg.Expiration != nil {
		if !msg.Expiration.After(now) {
			return otc.Position{}, fmt.Errorf("%w: expiration %v is not in the future", otc.ErrInvalidItem, msg.Expiration.UTC())
		}
		t := msg.Expiration.UTC()
		expiration = &t
	}

	return otc.Position{
		Owner:          owner,
		Counterparty:   counterparty,
		Offer:          offer,
		Ask:            ask,
		Status:         otc.PendingStatus(),
		ExpirationTime: expiration,
	}, nil
}

func (e *engine) items(side string, specs []ItemSpec) ([]otc.Item, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: empty %v", otc.ErrInvalidItem, side)
	}
	items := make([]otc.Item, 0, len(specs))
	for _, spec := range specs {
		item, err := otc.NewItem(spec.Info, spec.Vesting).Validate(e.validator)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", side, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// collectFlatFee charges the configured flat fee to sender out of the remaining funds and fails
// when anything is left over afterwards.
func (e *engine) collectFlatFee(fee otc.Fee, sender otc.Address, funds otc.Coins) ([]otc.Transfer, error) {
	var transfers []otc.Transfer
	remaining := funds
	if len(fee.Flat) > 0 {
		pulls, left, err := otc.Collect(fee.Flat, sender, fee.Collector, funds)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, pulls...)
		for _, info := range fee.Flat {
			if info.Kind != otc.AssetNative {
				continue
			}
			forward, err := otc.BuildTransfer(info, e.holder, fee.Collector, nil)
			if err != nil {
				return nil, err
			}
			transfers = append(transfers, forward)
		}
		remaining = left
	}
	if len(remaining) > 0 {
		return nil, fmt.Errorf("%w: %v", otc.ErrExtraFundsReceived, remaining)
	}
	return transfers, nil
}

// activePosition loads a position that can still be acted upon. Positions that already reached
// the executed partition are reported as being in the wrong state rather than missing.
func (e *engine) activePosition(tx store.Tx, id uint64) (otc.Position, error) {
	position, err := tx.Position(otc.PartitionActive, id)
	if err == nil || !errors.Is(err, otc.ErrNotFound) {
		return position, err
	}
	if _, execErr := tx.Position(otc.PartitionExecuted, id); execErr == nil {
		return otc.Position{}, fmt.Errorf("%w: position %d is executed", otc.ErrInvalidState, id)
	}
	return otc.Position{}, err
}

// afterAction recomputes the status after a disbursement and moves the position to the
// partition matching it.
func (e *engine) afterAction(tx store.Tx, position *otc.Position, pre otc.Status, now time.Time) ([]Attribute, error) {
	if err := position.TryClose(now); err != nil {
		return nil, err
	}
	switch position.Status.Kind {
	case otc.StatusExecuted:
		if err := tx.Remove(otc.PartitionActive, position.ID); err != nil {
			return nil, err
		}
		if err := tx.Save(otc.PartitionExecuted, *position); err != nil {
			return nil, err
		}
	case otc.StatusVesting:
		if err := tx.Save(otc.PartitionActive, *position); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: position %d is %v after settlement", otc.ErrInvalidState, position.ID, position.Status)
	}

	if pre.Kind == position.Status.Kind {
		return nil, nil
	}
	return []Attribute{
		{Key: "after_action", Value: afterActionStatusChange},
		{Key: "pre_status", Value: pre.String()},
		{Key: "current_status", Value: position.Status.String()},
	}, nil
}

func (e *engine) observe(operation string, started time.Time, resp *Response, err *error) {
	e.observer.Observe(operation, started, resp.Transfers, *err)
	if *err != nil {
		e.logger.Debug("operation rejected", zap.String("operation", operation), zap.Error(*err))
	}
}

func defaultPartition(p otc.Partition) otc.Partition {
	if p == 0 {
		return otc.PartitionActive
	}
	return p
}
