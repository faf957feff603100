package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrDuplicate is returned when an article with the same ticker and
// normalized title hash was already recorded within the dedup window.
// It is a normal ingestion outcome, not a failure.
var ErrDuplicate = errors.New("store: duplicate article event")

// ArticleEvent is one stored article arrival. Rows are append-only;
// nothing updates an event after insert.
type ArticleEvent struct {
	ID        uint      `gorm:"primaryKey"`
	Ticker    string    `gorm:"index:idx_ticker_ts;index:idx_ticker_hash"`
	Timestamp time.Time `gorm:"index:idx_ticker_ts"`
	TitleHash string    `gorm:"index:idx_ticker_hash"`
	Source    string
	URL       string
}

// EventStore persists article arrival events in sqlite via gorm.
type EventStore struct {
	db *gorm.DB
}

// OpenEventStore opens (creating if needed) the sqlite event database at
// path and migrates the schema.
func OpenEventStore(path string) (*EventStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ArticleEvent{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite permits a single writer. One connection serializes the
	// check-then-insert transactions instead of surfacing busy errors.
	sqlDB.SetMaxOpenConns(1)
	return &EventStore{db: db}, nil
}

// Insert appends an event unless an event with the same ticker and title
// hash exists within the dedup window ending at ev.Timestamp, in which
// case it returns ErrDuplicate and stores nothing.
func (s *EventStore) Insert(ctx context.Context, ev ArticleEvent, dedupWindow time.Duration) error {
	// One transaction, so two concurrent inserts of the same article
	// cannot both pass the duplicate check.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&ArticleEvent{}).
			Where("ticker = ? AND title_hash = ? AND timestamp > ?",
				ev.Ticker, ev.TitleHash, ev.Timestamp.Add(-dedupWindow)).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
		return tx.Create(&ev).Error
	})
}

// CountSince returns how many events exist for ticker with a timestamp
// strictly after the cutoff.
func (s *EventStore) CountSince(ctx context.Context, ticker string, cutoff time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ArticleEvent{}).
		Where("ticker = ? AND timestamp > ?", ticker, cutoff).
		Count(&count).Error
	return int(count), err
}

// PurgeBefore deletes events older than the cutoff for one ticker, or for
// every ticker when ticker is empty. Deleting already-deleted rows is a
// no-op, so repeated calls are idempotent.
func (s *EventStore) PurgeBefore(ctx context.Context, ticker string, cutoff time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Where("timestamp < ?", cutoff)
	if ticker != "" {
		q = q.Where("ticker = ?", ticker)
	}
	res := q.Delete(&ArticleEvent{})
	return res.RowsAffected, res.Error
}

// Close closes the underlying database handle.
func (s *EventStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
