package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/catalogfi/otc/pkg/otc"
	"github.com/catalogfi/otc/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	alice = otc.Address(common.HexToAddress("0x01").Hex())
	bob   = otc.Address(common.HexToAddress("0x02").Hex())
	carol = otc.Address(common.HexToAddress("0x03").Hex())
)

func position(id uint64, owner otc.Address, counterparty otc.Counterparty) otc.Position {
	return otc.Position{
		ID:           id,
		Owner:        owner,
		Counterparty: counterparty,
		Offer:        []otc.Item{otc.NewItem(otc.Native("luna", decimal.NewFromInt(int64(id))), nil)},
		Ask:          []otc.Item{otc.NewItem(otc.Native("btc", decimal.NewFromInt(1)), &otc.Vesting{Duration: 60})},
		Status:       otc.PendingStatus(),
	}
}

func idsOf(positions []otc.Position) []uint64 {
	out := make([]uint64, 0, len(positions))
	for _, p := range positions {
		out = append(out, p.ID)
	}
	return out
}

var errAbort = errors.New("abort")

func storeBehaviour(newStore func() store.Store) {
	var (
		ctx context.Context
		st  store.Store
	)

	save := func(partition otc.Partition, positions ...otc.Position) {
		Expect(st.Atomic(ctx, func(tx store.Tx) error {
			for _, p := range positions {
				if err := tx.Save(partition, p); err != nil {
					return err
				}
			}
			return nil
		})).To(Succeed())
	}
	load := func(partition otc.Partition, id uint64) (p otc.Position, err error) {
		err = st.View(ctx, func(r store.Reader) error {
			p, err = r.Position(partition, id)
			return err
		})
		return p, err
	}

	BeforeEach(func() {
		ctx = context.Background()
		st = newStore()
		DeferCleanup(st.Close)
	})

	It("should report a missing config", func() {
		Expect(st.View(ctx, func(r store.Reader) error {
			_, err := r.Config()
			return err
		})).To(MatchError(store.ErrConfigNotFound))

		Expect(st.Atomic(ctx, func(tx store.Tx) error {
			return tx.SaveConfig(store.Config{Owner: alice, Counter: 3})
		})).To(Succeed())
		Expect(st.View(ctx, func(r store.Reader) error {
			cfg, err := r.Config()
			if err != nil {
				return err
			}
			if cfg.Owner != alice || cfg.Counter != 3 {
				return fmt.Errorf("unexpected config %+v", cfg)
			}
			return nil
		})).To(Succeed())
	})

	It("should round trip positions", func() {
		p := position(1, alice, otc.FixedCounterparty(bob))
		save(otc.PartitionActive, p)

		loaded, err := load(otc.PartitionActive, 1)
		Expect(err).To(BeNil())
		Expect(loaded.Owner).To(Equal(alice))
		Expect(loaded.Counterparty.String()).To(Equal(bob.String()))
		Expect(loaded.Offer[0].Info.Amount.String()).To(Equal("1"))
		Expect(loaded.Ask[0].Vesting).To(Equal(&otc.Vesting{Duration: 60}))
		Expect(loaded.Status.Kind).To(Equal(otc.StatusPending))

		_, err = load(otc.PartitionExecuted, 1)
		Expect(err).To(MatchError(otc.ErrNotFound))
	})

	It("should discard every write of a failed transaction", func() {
		save(otc.PartitionActive, position(1, alice, otc.OpenCounterparty()))

		err := st.Atomic(ctx, func(tx store.Tx) error {
			if err := tx.SaveConfig(store.Config{Owner: alice, Counter: 9}); err != nil {
				return err
			}
			if err := tx.Remove(otc.PartitionActive, 1); err != nil {
				return err
			}
			if err := tx.Save(otc.PartitionExecuted, position(1, alice, otc.FixedCounterparty(bob))); err != nil {
				return err
			}
			if err := tx.Save(otc.PartitionActive, position(2, bob, otc.OpenCounterparty())); err != nil {
				return err
			}
			return errAbort
		})
		Expect(err).To(MatchError(errAbort))

		_, err = load(otc.PartitionActive, 1)
		Expect(err).To(BeNil())
		_, err = load(otc.PartitionExecuted, 1)
		Expect(err).To(MatchError(otc.ErrNotFound))
		_, err = load(otc.PartitionActive, 2)
		Expect(err).To(MatchError(otc.ErrNotFound))
		Expect(st.View(ctx, func(r store.Reader) error {
			_, err := r.Config()
			return err
		})).To(MatchError(store.ErrConfigNotFound))
	})

	It("should discard the writes of a transaction that panics", func() {
		save(otc.PartitionActive, position(1, alice, otc.OpenCounterparty()))

		Expect(func() {
			_ = st.Atomic(ctx, func(tx store.Tx) error {
				if err := tx.Remove(otc.PartitionActive, 1); err != nil {
					return err
				}
				if err := tx.Save(otc.PartitionActive, position(2, bob, otc.OpenCounterparty())); err != nil {
					return err
				}
				panic("boom")
			})
		}).To(Panic())

		_, err := load(otc.PartitionActive, 1)
		Expect(err).To(BeNil())
		_, err = load(otc.PartitionActive, 2)
		Expect(err).To(MatchError(otc.ErrNotFound))
	})

	It("should move a position between partitions", func() {
		save(otc.PartitionActive, position(1, alice, otc.OpenCounterparty()))
		Expect(st.Atomic(ctx, func(tx store.Tx) error {
			if err := tx.Remove(otc.PartitionActive, 1); err != nil {
				return err
			}
			return tx.Save(otc.PartitionExecuted, position(1, alice, otc.FixedCounterparty(bob)))
		})).To(Succeed())

		_, err := load(otc.PartitionActive, 1)
		Expect(err).To(MatchError(otc.ErrNotFound))
		_, err = load(otc.PartitionExecuted, 1)
		Expect(err).To(BeNil())

		Expect(st.View(ctx, func(r store.Reader) error {
			positions, err := r.PositionsByCounterparty(otc.PartitionExecuted, bob, store.Page{})
			if err != nil {
				return err
			}
			if len(positions) != 1 {
				return fmt.Errorf("expected one position, got %d", len(positions))
			}
			return nil
		})).To(Succeed())
	})

	It("should fail to remove an absent position", func() {
		Expect(st.Atomic(ctx, func(tx store.Tx) error {
			return tx.Remove(otc.PartitionActive, 7)
		})).To(MatchError(otc.ErrNotFound))
	})

	Context("when listing", func() {
		BeforeEach(func() {
			var positions []otc.Position
			for id := uint64(1); id <= 35; id++ {
				owner, counterparty := alice, otc.OpenCounterparty()
				if id%5 == 0 {
					owner = bob
				}
				if id%3 == 0 {
					counterparty = otc.FixedCounterparty(carol)
				}
				positions = append(positions, position(id, owner, counterparty))
			}
			save(otc.PartitionActive, positions...)
		})

		list := func(fn func(r store.Reader) ([]otc.Position, error)) []uint64 {
			var out []uint64
			Expect(st.View(ctx, func(r store.Reader) error {
				positions, err := fn(r)
				out = idsOf(positions)
				return err
			})).To(Succeed())
			return out
		}

		It("should apply the default limit and the cap", func() {
			Expect(list(func(r store.Reader) ([]otc.Position, error) {
				return r.Positions(otc.PartitionActive, store.Page{})
			})).To(Equal([]uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))
			Expect(list(func(r store.Reader) ([]otc.Position, error) {
				return r.Positions(otc.PartitionActive, store.Page{Limit: 1000})
			})).To(HaveLen(store.MaxLimit))
		})

		It("should resume after the cursor in both orders", func() {
			after := uint64(32)
			Expect(list(func(r store.Reader) ([]otc.Position, error) {
				return r.Positions(otc.PartitionActive, store.Page{StartAfter: &after})
			})).To(Equal([]uint64{33, 34, 35}))
			Expect(list(func(r store.Reader) ([]otc.Position, error) {
				return r.Positions(otc.PartitionActive, store.Page{StartAfter: &after, Order: store.Descending, Limit: 3})
			})).To(Equal([]uint64{31, 30, 29}))
		})

		It("should serve the owner index", func() {
			Expect(list(func(r store.Reader) ([]otc.Position, error) {
				return r.PositionsByOwner(otc.PartitionActive, bob, store.Page{})
			})).To(Equal([]uint64{5, 10, 15, 20, 25, 30, 35}))
			Expect(list(func(r store.Reader) ([]otc.Position, error) {
				return r.PositionsByOwner(otc.PartitionExecuted, bob, store.Page{})
			})).To(BeEmpty())
		})

		It("should leave open positions out of the counterparty index", func() {
			Expect(list(func(r store.Reader) ([]otc.Position, error) {
				return r.PositionsByCounterparty(otc.PartitionActive, carol, store.Page{Order: store.Descending, Limit: 4})
			})).To(Equal([]uint64{33, 30, 27, 24}))
			Expect(list(func(r store.Reader) ([]otc.Position, error) {
				return r.PositionsByCounterparty(otc.PartitionActive, "", store.Page{})
			})).To(BeEmpty())
		})

		It("should keep the indexes in step with updates", func() {
			updated := position(5, alice, otc.FixedCounterparty(carol))
			save(otc.PartitionActive, updated)
			Expect(list(func(r store.Reader) ([]otc.Position, error) {
				return r.PositionsByOwner(otc.PartitionActive, bob, store.Page{Limit: 2})
			})).To(Equal([]uint64{10, 15}))
			Expect(list(func(r store.Reader) ([]otc.Position, error) {
				return r.PositionsByCounterparty(otc.PartitionActive, carol, store.Page{Limit: 2})
			})).To(Equal([]uint64{3, 5}))
		})
	})
}

var _ = Describe("MemStore", func() {
	storeBehaviour(store.NewMemStore)
})

var _ = Describe("SQL store", func() {
	storeBehaviour(func() store.Store {
		dir, err := os.MkdirTemp("", "otc-store")
		Expect(err).To(BeNil())
		DeferCleanup(os.RemoveAll, dir)

		st, err := store.Open("sqlite://" + filepath.Join(dir, "otc.db"))
		Expect(err).To(BeNil())
		return st
	})
})

var _ = Describe("Open", func() {
	It("should reject unknown backends", func() {
		_, err := store.Open("mysql://localhost")
		Expect(err).To(HaveOccurred())
	})

	It("should parse pagination orders", func() {
		order, err := store.ParseOrder("DESC")
		Expect(err).To(BeNil())
		Expect(order).To(Equal(store.Descending))
		_, err = store.ParseOrder("sideways")
		Expect(err).To(HaveOccurred())
	})
})
