package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// BoltStore keeps all documents in one bucket of a BoltDB file. The
// database is opened per operation so multiple processes can share the
// file without holding the lock between calls.
type BoltStore struct {
	dbPath string
}

// NewBoltStore validates the path and ensures the parent directory and
// bucket exist.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	if dbPath == "" {
		return nil, errors.New("bolt store requires a database path")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	store := &BoltStore{dbPath: dbPath}
	err := store.withDB(func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(sessionsBucket)
			return err
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize bucket")
	}
	return store, nil
}

// withDB opens the database for a single operation and closes it when
// done, keeping lock duration minimal.
func (s *BoltStore) withDB(operation func(*bbolt.DB) error) error {
	db, err := bbolt.Open(s.dbPath, 0o600, &bbolt.Options{
		Timeout: 2 * time.Second,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer db.Close()
	return operation(db)
}

// Load implements Store.
func (s *BoltStore) Load(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.withDB(func(db *bbolt.DB) error {
		return db.View(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket(sessionsBucket)
			if bucket == nil {
				return ErrNotFound
			}
			value := bucket.Get([]byte(key))
			if value == nil {
				return ErrNotFound
			}
			data = make([]byte, len(value))
			copy(data, value)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Save implements Store.
func (s *BoltStore) Save(_ context.Context, key string, data []byte) error {
	return s.withDB(func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			bucket, err := tx.CreateBucketIfNotExists(sessionsBucket)
			if err != nil {
				return errors.Wrap(err, "failed to ensure bucket")
			}
			return bucket.Put([]byte(key), data)
		})
	})
}

// List implements Store.
func (s *BoltStore) List(_ context.Context) ([]string, error) {
	var keys []string
	err := s.withDB(func(db *bbolt.DB) error {
		return db.View(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket(sessionsBucket)
			if bucket == nil {
				return nil
			}
			return bucket.ForEach(func(k, _ []byte) error {
				keys = append(keys, string(k))
				return nil
			})
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list keys")
	}
	return keys, nil
}

// Close implements Store. Connections are operation-scoped.
func (s *BoltStore) Close() error {
	return nil
}
