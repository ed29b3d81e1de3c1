package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/catalogfi/otc/pkg/otc"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const configRowID = 1

type PositionRecord struct {
	ID           uint64        `gorm:"primaryKey;autoIncrement:false"`
	Partition    uint8         `gorm:"column:partition_kind;not null;index:idx_positions_owner,priority:1;index:idx_positions_counterparty,priority:1"`
	Owner        string        `gorm:"not null;index:idx_positions_owner,priority:2"`
	Counterparty string        `gorm:"not null;index:idx_positions_counterparty,priority:2"`
	Status       string        `gorm:"not null"`
	Data         datatypes.JSON
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (PositionRecord) TableName() string {
	return "positions"
}

type ConfigRecord struct {
	ID        uint `gorm:"primaryKey"`
	Owner     string
	Counter   uint64
	UpdatedAt time.Time
}

func (ConfigRecord) TableName() string {
	return "configs"
}

type sqlStore struct {
	db *gorm.DB
}

// NewStore returns a Store persisting positions through gorm. Owner and counterparty are kept as
// indexed columns next to the JSON encoded position so secondary lookups are served by the
// database and stay consistent with the primary row.
func NewStore(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&PositionRecord{}, &ConfigRecord{}); err != nil {
		return nil, err
	}

	// Set max connections
	sqlDb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDb.SetMaxIdleConns(5)
	sqlDb.SetMaxOpenConns(5)
	sqlDb.SetConnMaxIdleTime(10 * time.Minute)
	return &sqlStore{db: db}, nil
}

func (s *sqlStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqlTx{db: tx})
	})
}

func (s *sqlStore) View(ctx context.Context, fn func(r Reader) error) error {
	return fn(&sqlTx{db: s.db.WithContext(ctx)})
}

func (s *sqlStore) Close() error {
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}

type sqlTx struct {
	db *gorm.DB
}

func (tx *sqlTx) Config() (Config, error) {
	var record ConfigRecord
	if err := tx.db.First(&record, configRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Config{}, ErrConfigNotFound
		}
		return Config{}, err
	}
	return Config{Owner: otc.Address(record.Owner), Counter: record.Counter}, nil
}

func (tx *sqlTx) SaveConfig(cfg Config) error {
	record := ConfigRecord{
		ID:      configRowID,
		Owner:   cfg.Owner.String(),
		Counter: cfg.Counter,
	}
	return tx.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error
}

func (tx *sqlTx) Position(partition otc.Partition, id uint64) (otc.Position, error) {
	var record PositionRecord
	err := tx.db.Where("id = ? AND partition_kind = ?", id, uint8(partition)).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return otc.Position{}, fmt.Errorf("%w: %v position %d", otc.ErrNotFound, partition, id)
		}
		return otc.Position{}, err
	}
	return decodePosition(record)
}

func (tx *sqlTx) Positions(partition otc.Partition, page Page) ([]otc.Position, error) {
	return tx.list(tx.db.Where("partition_kind = ?", uint8(partition)), page)
}

func (tx *sqlTx) PositionsByOwner(partition otc.Partition, owner otc.Address, page Page) ([]otc.Position, error) {
	return tx.list(tx.db.Where("partition_kind = ? AND owner = ?", uint8(partition), owner.String()), page)
}

func (tx *sqlTx) PositionsByCounterparty(partition otc.Partition, counterparty otc.Address, page Page) ([]otc.Position, error) {
	if counterparty == "" {
		return []otc.Position{}, nil
	}
	return tx.list(tx.db.Where("partition_kind = ? AND counterparty = ?", uint8(partition), counterparty.String()), page)
}

func (tx *sqlTx) list(query *gorm.DB, page Page) ([]otc.Position, error) {
	if page.Order == Descending {
		if page.StartAfter != nil {
			query = query.Where("id < ?", *page.StartAfter)
		}
		query = query.Order("id desc")
	} else {
		if page.StartAfter != nil {
			query = query.Where("id > ?", *page.StartAfter)
		}
		query = query.Order("id asc")
	}

	var records []PositionRecord
	if err := query.Limit(page.Size()).Find(&records).Error; err != nil {
		return nil, err
	}
	positions := make([]otc.Position, 0, len(records))
	for _, record := range records {
		position, err := decodePosition(record)
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	return positions, nil
}

func (tx *sqlTx) Save(partition otc.Partition, position otc.Position) error {
	data, err := json.Marshal(position)
	if err != nil {
		return err
	}
	record := PositionRecord{
		ID:           position.ID,
		Partition:    uint8(partition),
		Owner:        position.Owner.String(),
		Counterparty: position.Counterparty.IndexKey(),
		Status:       position.Status.String(),
		Data:         datatypes.JSON(data),
	}
	return tx.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"partition_kind", "owner", "counterparty", "status", "data", "updated_at"}),
	}).Create(&record).Error
}

func (tx *sqlTx) Remove(partition otc.Partition, id uint64) error {
	result := tx.db.Where("id = ? AND partition_kind = ?", id, uint8(partition)).Delete(&PositionRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %v position %d", otc.ErrNotFound, partition, id)
	}
	return nil
}

func decodePosition(record PositionRecord) (otc.Position, error) {
	var position otc.Position
	if err := json.Unmarshal(record.Data, &position); err != nil {
		return otc.Position{}, fmt.Errorf("decode position %d: %w", record.ID, err)
	}
	return position, nil
}
