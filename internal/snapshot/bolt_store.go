package snapshot

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"collabfs/internal/crdt"
)

var bucketName = []byte("session_snapshots")

// BoltStore is a single-file embedded-database snapshot backend: one
// bucket, key is the session id, value is the encoded change batch. Useful
// for a single-process deployment that wants crash-safe writes without
// standing up a separate database server.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (creating if absent) the bbolt file at path and
// ensures the snapshot bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open bbolt %q: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Put writes data under sessionID inside one bbolt transaction, which bbolt
// fsyncs before returning, so unlike FileStore this backend's writes are
// durable across a crash immediately following Put.
func (s *BoltStore) Put(_ context.Context, sessionID string, data []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(sessionID), data)
	})
	if err != nil {
		return fmt.Errorf("snapshot: bbolt put %q: %w", sessionID, err)
	}
	return nil
}

// Get reads sessionID's snapshot. A missing key or bytes that fail to
// decode as a change batch are both reported as ok=false.
func (s *BoltStore) Get(_ context.Context, sessionID string) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(sessionID))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: bbolt get %q: %w", sessionID, err)
	}
	if data == nil {
		return nil, false, nil
	}
	if _, err := crdt.DecodeChanges(data); err != nil {
		return nil, false, nil
	}
	return data, true, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
