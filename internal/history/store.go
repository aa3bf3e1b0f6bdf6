package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"flashguard-go/internal/types"
)

// Transition is one persisted suppression transition.
type Transition struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	SourceID    string    `gorm:"index;size:36" json:"source_id"`
	SourceKey   string    `gorm:"size:255" json:"source"`
	Event       string    `gorm:"size:16" json:"event"`
	Reason      string    `gorm:"size:16" json:"reason"`
	TimestampMs int64     `gorm:"index" json:"timestamp_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps transition history in SQLite. As a diagnostics sink it only
// enqueues; Run performs the writes.
type Store struct {
	db      *gorm.DB
	log     *slog.Logger
	queue   chan types.TransitionRecord
	dropped atomic.Uint64
}

func Open(dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Transition{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{
		db:    db,
		log:   log,
		queue: make(chan types.TransitionRecord, 512),
	}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Add(ctx context.Context, rec types.TransitionRecord) error {
	row := Transition{
		SourceID:    rec.Source.String(),
		SourceKey:   rec.Key,
		Event:       string(rec.Event),
		Reason:      string(rec.Reason),
		TimestampMs: rec.TimestampMs,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// Recent returns up to limit transitions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Transition, error) {
	var rows []Transition
	err := s.db.WithContext(ctx).
		Order("timestamp_ms DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *Store) Frame(types.FrameRecord) {}
func (s *Store) Warn(string, error)      {}

func (s *Store) Transition(rec types.TransitionRecord) {
	select {
	case s.queue <- rec:
	default:
		n := s.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			s.log.Warn("history queue full", "dropped_total", n)
		}
	}
}

// Run drains queued transitions into the database until ctx is done.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case rec := <-s.queue:
			if err := s.Add(ctx, rec); err != nil {
				s.log.Warn("history write failed", "source", rec.Key, "err", err)
			}
		}
	}
}

func (s *Store) drain() {
	for {
		select {
		case rec := <-s.queue:
			if err := s.Add(context.Background(), rec); err != nil {
				s.log.Warn("history write failed", "source", rec.Key, "err", err)
			}
		default:
			return
		}
	}
}
