// Package store keeps assembled class files in a SQLite database, keyed by
// the SHA-256 of their bytes.
package store

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/jclass/pkg/bundle"
)

var log = commonlog.GetLogger("jclass.store")

// ErrNotFound indicates the requested class is not in the store.
var ErrNotFound = errors.New("class not found")

// Store is a content-addressed class store. It is safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS classes (
		hash TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS classes_name ON classes (name)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores a class file and returns its hash. Storing the same bytes
// again is a no-op.
func (s *Store) Put(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := bundle.Hash(data)
	hash := hex.EncodeToString(sum[:])
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO classes (hash, name, data) VALUES (?, ?, ?)",
		hash, name, data,
	)
	if err != nil {
		return "", fmt.Errorf("saving class %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Debugf("stored %s as %s (%d bytes)", name, hash[:12], len(data))
	}
	return hash, nil
}

// PutBundle stores every class of a bundle.
func (s *Store) PutBundle(b *bundle.Bundle) error {
	for _, c := range b.Classes {
		if _, err := s.Put(c.Name, c.Data); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the class file with the given hex hash.
func (s *Store) Get(hash string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM classes WHERE hash = ?", hash).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying class: %w", err)
	}
	return data, nil
}

// GetByName returns the most recently stored class file with the given
// internal name.
func (s *Store) GetByName(name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM classes WHERE name = ? ORDER BY rowid DESC LIMIT 1", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying class %s: %w", name, err)
	}
	return data, nil
}

// Names returns the distinct class names in the store, sorted.
func (s *Store) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT name FROM classes ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing classes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing classes: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
