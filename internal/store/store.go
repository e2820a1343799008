// Package store keeps compiled bundles in a SQLite database so unchanged
// documents are not recompiled.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/funvibe/pybc/internal/future"
	"github.com/funvibe/pybc/internal/vm"
)

// ErrNotFound is returned by Get when no bundle matches.
var ErrNotFound = errors.New("bundle not found")

const schema = `
CREATE TABLE IF NOT EXISTS bundles (
	digest      TEXT    NOT NULL,
	features    INTEGER NOT NULL,
	build_id    TEXT    NOT NULL,
	source_file TEXT    NOT NULL,
	data        BLOB    NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (digest, features)
)`

// Store is a bundle cache keyed by source digest and future features.
// It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Entry describes one stored bundle without decoding it.
type Entry struct {
	Digest     string
	Features   future.Flags
	BuildID    string
	SourceFile string
	Size       int
	Created    time.Time
}

// Open opens or creates the store at path. ":memory:" gives a private
// in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing store %s: %w", path, err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Digest is the key under which a source document is stored.
func Digest(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// Put stores b, replacing any bundle with the same digest and features.
func (s *Store) Put(ctx context.Context, b *vm.Bundle) error {
	if b.Digest == "" {
		return fmt.Errorf("bundle %s has no digest", b.BuildID)
	}
	data, err := b.Serialize()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO bundles (digest, features, build_id, source_file, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.Digest, int64(b.Features), b.BuildID, b.SourceFile, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("storing bundle %s: %w", b.Digest, err)
	}
	return nil
}

// Get loads the bundle compiled from digest with features.
func (s *Store) Get(ctx context.Context, digest string, features future.Flags) (*vm.Bundle, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM bundles WHERE digest = ? AND features = ?`,
		digest, int64(features)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading bundle %s: %w", digest, err)
	}
	b, err := vm.DeserializeBundle(data)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", digest, err)
	}
	return b, nil
}

// Delete removes a bundle. Deleting a missing bundle is not an error.
func (s *Store) Delete(ctx context.Context, digest string, features future.Flags) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bundles WHERE digest = ? AND features = ?`, digest, int64(features))
	return err
}

// List returns every stored bundle, newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT digest, features, build_id, source_file, length(data), created_at
		 FROM bundles ORDER BY created_at DESC, digest`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var features, created int64
		if err := rows.Scan(&e.Digest, &features, &e.BuildID, &e.SourceFile, &e.Size, &created); err != nil {
			return nil, err
		}
		e.Features = future.Flags(features)
		e.Created = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
