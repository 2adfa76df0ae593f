// Package kvstore provides the byte-oriented persistence layer the
// session store writes through. Three interchangeable backends are
// offered: flat JSON files, a BoltDB bucket, and a SQLite table.
package kvstore

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Load when the key has never been saved.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a minimal key-value interface. Keys are opaque stream IDs;
// values are serialized session documents.
type Store interface {
	// Load returns the stored bytes for key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save writes the bytes for key, overwriting any previous value.
	Save(ctx context.Context, key string, data []byte) error
	// List returns every stored key.
	List(ctx context.Context) ([]string, error)
	// Close releases backend resources.
	Close() error
}

// Config selects and locates a backend.
type Config struct {
	// Backend is one of "jsonfile", "bolt", "sqlite".
	Backend string
	// Path is a directory for jsonfile, or a database file path for
	// bolt and sqlite.
	Path string
}

// New creates the store described by cfg.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "jsonfile":
		return NewJSONFileStore(cfg.Path)
	case "bolt":
		return NewBoltStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, errors.Errorf("unknown kvstore backend %q", cfg.Backend)
	}
}
