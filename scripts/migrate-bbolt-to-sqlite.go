package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/kokoroflow/kokoroflow/pkg/kvstore"
	"github.com/kokoroflow/kokoroflow/pkg/session"
)

func main() {
	if err := runMigration(); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migration completed successfully!")
}

func runMigration() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return errors.Wrap(err, "failed to get home directory")
	}

	boltPath := filepath.Join(homeDir, ".kokoroflow", "sessions.db")
	sqlitePath := filepath.Join(homeDir, ".kokoroflow", "sessions.sqlite")

	fmt.Printf("Migrating from BBolt: %s\n", boltPath)
	fmt.Printf("To SQLite: %s\n", sqlitePath)

	if _, err := os.Stat(boltPath); os.IsNotExist(err) {
		return errors.Errorf("BBolt database not found at %s", boltPath)
	}

	if _, err := os.Stat(sqlitePath); err == nil {
		return errors.Errorf("SQLite database already exists at %s. Please remove it first or backup your data", sqlitePath)
	}

	sessions, err := readSessionsFromBolt(boltPath)
	if err != nil {
		return errors.Wrap(err, "failed to read sessions from BBolt")
	}

	fmt.Printf("Found %d sessions in BBolt database\n", len(sessions))

	if len(sessions) == 0 {
		fmt.Println("No sessions found, creating empty SQLite database")
	}

	if err := writeSessionsToSQLite(sqlitePath, sessions); err != nil {
		return errors.Wrap(err, "failed to write sessions to SQLite")
	}

	fmt.Printf("The old BBolt database at %s was left untouched\n", boltPath)
	return nil
}

type sessionRecord struct {
	key  string
	data []byte
}

func readSessionsFromBolt(dbPath string) ([]sessionRecord, error) {
	ctx := context.Background()

	store, err := kvstore.NewBoltStore(dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open BBolt store")
	}
	defer store.Close()

	keys, err := store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}

	var records []sessionRecord
	for _, key := range keys {
		data, err := store.Load(ctx, key)
		if err != nil {
			fmt.Printf("Warning: Failed to load session %s: %v\n", key, err)
			continue
		}
		// Skip entries that no longer parse instead of carrying
		// corrupt payloads into the new store.
		var sess session.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			fmt.Printf("Warning: Failed to unmarshal session %s: %v\n", key, err)
			continue
		}
		records = append(records, sessionRecord{key: key, data: data})
	}

	return records, nil
}

func writeSessionsToSQLite(dbPath string, records []sessionRecord) error {
	ctx := context.Background()

	store, err := kvstore.NewSQLiteStore(dbPath)
	if err != nil {
		return errors.Wrap(err, "failed to create SQLite store")
	}
	defer store.Close()

	for i, record := range records {
		if err := store.Save(ctx, record.key, record.data); err != nil {
			return errors.Wrapf(err, "failed to save session %s (record %d)", record.key, i+1)
		}

		if (i+1)%10 == 0 || i+1 == len(records) {
			fmt.Printf("Migrated %d/%d sessions\n", i+1, len(records))
		}
	}

	return nil
}
