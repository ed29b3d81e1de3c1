package store

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open picks a backend from dsn: an empty dsn keeps positions in memory, "sqlite://<path>" opens
// a sqlite file and "postgres://..." connects to postgres.
func Open(dsn string) (Store, error) {
	var dialector gorm.Dialector
	switch {
	case dsn == "":
		return NewMemStore(), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database dsn %q", dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewStore(db)
}
