package snapshot

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"collabfs/internal/crdt"
)

// sessionSnapshotRow is the GORM model backing PostgresStore, holding one
// whole-document blob per session instead of an append-only update log:
// whole-document snapshots are overwritten in place, there is nothing to
// replay.
type sessionSnapshotRow struct {
	SessionID string    `gorm:"column:session_id;type:varchar(255);primaryKey"`
	Data      []byte    `gorm:"column:data;type:bytea;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (sessionSnapshotRow) TableName() string { return "session_snapshots" }

// PostgresStore persists snapshots in a single table keyed by session id,
// using the same upsert-on-conflict pattern GORM exposes for "put the
// latest blob" semantics.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens dsn and migrates the session_snapshots table.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&sessionSnapshotRow{}); err != nil {
		return nil, fmt.Errorf("snapshot: migrate session_snapshots: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Put upserts sessionID's snapshot row.
func (s *PostgresStore) Put(ctx context.Context, sessionID string, data []byte) error {
	row := sessionSnapshotRow{SessionID: sessionID, Data: data, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Assign(sessionSnapshotRow{Data: data, UpdatedAt: row.UpdatedAt}).
		FirstOrCreate(&row).Error
	if err != nil {
		return fmt.Errorf("snapshot: postgres put %q: %w", sessionID, err)
	}
	return nil
}

// Get reads sessionID's snapshot row. A missing row or undecodable bytes
// are both reported as ok=false.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) ([]byte, bool, error) {
	var row sessionSnapshotRow
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("snapshot: postgres get %q: %w", sessionID, err)
	}
	if _, err := crdt.DecodeChanges(row.Data); err != nil {
		return nil, false, nil
	}
	return row.Data, true, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
