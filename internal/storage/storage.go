// Package storage persists VFS snapshots and registry manifests across
// process restarts, adapted from the teacher's DB/DBConn registry pattern
// (server/storage/db.go) onto a single concrete backend: bbolt.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/esmkit/esmkit/internal/logx"
	"github.com/esmkit/esmkit/internal/vfs"
)

// ErrorNotFound mirrors the teacher's sentinel for a missing record.
var ErrorNotFound = errors.New("record not found")

var (
	bucketSnapshots = []byte("snapshots")
	bucketManifests = []byte("manifests")
)

// Store is a bbolt-backed cache for VFS snapshots (keyed by project id) and
// registry manifests (keyed by package name). The zero value is not usable;
// call Open.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures its
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketManifests)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init storage buckets: %w", err)
	}
	logx.L.Debugf("storage: opened %s", path)
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutSnapshot persists a VFS snapshot under id, overwriting any prior value.
func (s *Store) PutSnapshot(id string, snap vfs.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", id, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(id), data)
	})
}

// GetSnapshot loads the snapshot stored under id. Returns ErrorNotFound if
// absent.
func (s *Store) GetSnapshot(id string) (vfs.Snapshot, error) {
	var snap vfs.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSnapshots).Get([]byte(id))
		if raw == nil {
			return ErrorNotFound
		}
		return json.Unmarshal(raw, &snap)
	})
	if err != nil {
		return vfs.Snapshot{}, err
	}
	return snap, nil
}

// DeleteSnapshot removes the snapshot stored under id, if any.
func (s *Store) DeleteSnapshot(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(id))
	})
}

// PutManifestJSON caches a registry manifest's raw JSON bytes under name,
// alongside the time it was fetched, so callers can apply their own TTL.
func (s *Store) PutManifestJSON(name string, raw []byte) error {
	entry := manifestEntry{FetchedAt: time.Now(), Raw: raw}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal manifest cache entry %s: %w", name, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketManifests).Put([]byte(name), data)
	})
}

// GetManifestJSON returns the cached raw manifest bytes for name and the
// time they were cached. Returns ErrorNotFound if absent.
func (s *Store) GetManifestJSON(name string) ([]byte, time.Time, error) {
	var entry manifestEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketManifests).Get([]byte(name))
		if raw == nil {
			return ErrorNotFound
		}
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return entry.Raw, entry.FetchedAt, nil
}

type manifestEntry struct {
	FetchedAt time.Time       `json:"fetchedAt"`
	Raw       json.RawMessage `json:"raw"`
}
