package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/catalogfi/otc/pkg/otc"
)

// ids is an ascending set of position ids.
type ids []uint64

func (s ids) search(id uint64) int {
	return sort.Search(len(s), func(i int) bool { return s[i] >= id })
}

func (s *ids) insert(id uint64) {
	i := s.search(id)
	if i < len(*s) && (*s)[i] == id {
		return
	}
	*s = append(*s, 0)
	copy((*s)[i+1:], (*s)[i:])
	(*s)[i] = id
}

func (s *ids) delete(id uint64) {
	i := s.search(id)
	if i < len(*s) && (*s)[i] == id {
		*s = append((*s)[:i], (*s)[i+1:]...)
	}
}

// scan visits the ids past the page cursor in page order until visit returns false.
func (s ids) scan(page Page, visit func(id uint64) bool) {
	if page.Order == Descending {
		end := len(s)
		if page.StartAfter != nil {
			end = s.search(*page.StartAfter)
		}
		for i := end - 1; i >= 0; i-- {
			if !visit(s[i]) {
				return
			}
		}
		return
	}
	start := 0
	if page.StartAfter != nil {
		if *page.StartAfter == math.MaxUint64 {
			return
		}
		start = s.search(*page.StartAfter + 1)
	}
	for i := start; i < len(s); i++ {
		if !visit(s[i]) {
			return
		}
	}
}

type partition struct {
	positions      map[uint64]otc.Position
	primary        ids
	byOwner        map[string]*ids
	byCounterparty map[string]*ids
}

func newPartition() *partition {
	return &partition{
		positions:      map[uint64]otc.Position{},
		byOwner:        map[string]*ids{},
		byCounterparty: map[string]*ids{},
	}
}

func indexInsert(index map[string]*ids, key string, id uint64) {
	set, ok := index[key]
	if !ok {
		set = new(ids)
		index[key] = set
	}
	set.insert(id)
}

func indexDelete(index map[string]*ids, key string, id uint64) {
	if set, ok := index[key]; ok {
		set.delete(id)
		if len(*set) == 0 {
			delete(index, key)
		}
	}
}

func (p *partition) put(position otc.Position) {
	if prev, ok := p.positions[position.ID]; ok {
		p.drop(prev)
	}
	p.positions[position.ID] = position.Clone()
	p.primary.insert(position.ID)
	indexInsert(p.byOwner, position.Owner.String(), position.ID)
	indexInsert(p.byCounterparty, position.Counterparty.IndexKey(), position.ID)
}

func (p *partition) drop(position otc.Position) {
	delete(p.positions, position.ID)
	p.primary.delete(position.ID)
	indexDelete(p.byOwner, position.Owner.String(), position.ID)
	indexDelete(p.byCounterparty, position.Counterparty.IndexKey(), position.ID)
}

func (p *partition) list(set *ids, page Page) []otc.Position {
	out := []otc.Position{}
	if set == nil {
		return out
	}
	size := page.Size()
	set.scan(page, func(id uint64) bool {
		out = append(out, p.positions[id].Clone())
		return len(out) < size
	})
	return out
}

type memStore struct {
	mu         sync.RWMutex
	config     *Config
	partitions map[otc.Partition]*partition
}

// NewMemStore returns a Store keeping everything in process memory. Writes made inside a failed
// Atomic call are rolled back from an undo log.
func NewMemStore() Store {
	return &memStore{
		partitions: map[otc.Partition]*partition{
			otc.PartitionActive:   newPartition(),
			otc.PartitionExecuted: newPartition(),
		},
	}
}

func (s *memStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *memStore) View(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{store: s, readOnly: true})
}

func (s *memStore) Close() error {
	return nil
}

type memTx struct {
	store    *memStore
	readOnly bool
	undo     []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) partition(p otc.Partition) (*partition, error) {
	part, ok := tx.store.partitions[p]
	if !ok {
		return nil, fmt.Errorf("unknown partition %d", p)
	}
	return part, nil
}

func (tx *memTx) Config() (Config, error) {
	if tx.store.config == nil {
		return Config{}, ErrConfigNotFound
	}
	return *tx.store.config, nil
}

func (tx *memTx) SaveConfig(cfg Config) error {
	if tx.readOnly {
		return fmt.Errorf("read only transaction")
	}
	prev := tx.store.config
	tx.store.config = &cfg
	tx.undo = append(tx.undo, func() { tx.store.config = prev })
	return nil
}

func (tx *memTx) Position(p otc.Partition, id uint64) (otc.Position, error) {
	part, err := tx.partition(p)
	if err != nil {
		return otc.Position{}, err
	}
	position, ok := part.positions[id]
	if !ok {
		return otc.Position{}, fmt.Errorf("%w: %v position %d", otc.ErrNotFound, p, id)
	}
	return position.Clone(), nil
}

func (tx *memTx) Positions(p otc.Partition, page Page) ([]otc.Position, error) {
	part, err := tx.partition(p)
	if err != nil {
		return nil, err
	}
	return part.list(&part.primary, page), nil
}

func (tx *memTx) PositionsByOwner(p otc.Partition, owner otc.Address, page Page) ([]otc.Position, error) {
	part, err := tx.partition(p)
	if err != nil {
		return nil, err
	}
	return part.list(part.byOwner[owner.String()], page), nil
}

func (tx *memTx) PositionsByCounterparty(p otc.Partition, counterparty otc.Address, page Page) ([]otc.Position, error) {
	part, err := tx.partition(p)
	if err != nil {
		return nil, err
	}
	if counterparty == "" {
		return []otc.Position{}, nil
	}
	return part.list(part.byCounterparty[counterparty.String()], page), nil
}

func (tx *memTx) Save(p otc.Partition, position otc.Position) error {
	if tx.readOnly {
		return fmt.Errorf("read only transaction")
	}
	part, err := tx.partition(p)
	if err != nil {
		return err
	}
	prev, existed := part.positions[position.ID]
	part.put(position)
	tx.undo = append(tx.undo, func() {
		part.drop(position)
		if existed {
			part.put(prev)
		}
	})
	return nil
}

func (tx *memTx) Remove(p otc.Partition, id uint64) error {
	if tx.readOnly {
		return fmt.Errorf("read only transaction")
	}
	part, err := tx.partition(p)
	if err != nil {
		return err
	}
	prev, ok := part.positions[id]
	if !ok {
		return fmt.Errorf("%w: %v position %d", otc.ErrNotFound, p, id)
	}
	part.drop(prev)
	tx.undo = append(tx.undo, func() { part.put(prev) })
	return nil
}
