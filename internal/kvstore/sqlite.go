package kvstore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a durable Store backed by a single SQLite file. One database
// holds every Scope; Scoped returns a view bound to one of them.
type SQLite struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenSQLite creates or opens the database at dbPath and applies migrations.
func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{
		migrateV1,
	}

	for i := version; i < len(migrations); i++ {
		slog.Info("Applying kvstore migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the scoped entries table.
func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (scope, key)
		)
	`)
	return err
}

// Scoped returns a Store view over one scope of the database.
func (s *SQLite) Scoped(scope Scope) Store {
	return &scopedStore{db: s, scope: scope}
}

// PurgeScope deletes every entry in scope and returns how many were removed.
func (s *SQLite) PurgeScope(scope Scope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM entries WHERE scope = ?", string(scope))
	if err != nil {
		return 0, unavailable("purge scope", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Keys lists the keys stored in scope, ordered by key.
func (s *SQLite) Keys(scope Scope) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT key FROM entries WHERE scope = ? ORDER BY key ASC", string(scope))
	if err != nil {
		return nil, unavailable("list keys", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, unavailable("scan key", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate keys", err)
	}
	return keys, nil
}

func (s *SQLite) get(scope Scope, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM entries WHERE scope = ? AND key = ?", string(scope), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get entry", err)
	}
	return value, true, nil
}

func (s *SQLite) set(scope Scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO entries (scope, key, value, updated_at) VALUES (?, ?, ?, ?)",
		string(scope), key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return unavailable("set entry", err)
	}
	return nil
}

func (s *SQLite) remove(scope Scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM entries WHERE scope = ? AND key = ?", string(scope), key); err != nil {
		return unavailable("remove entry", err)
	}
	return nil
}

type scopedStore struct {
	db    *SQLite
	scope Scope
}

func (s *scopedStore) Get(key string) (string, bool, error) { return s.db.get(s.scope, key) }
func (s *scopedStore) Set(key, value string) error          { return s.db.set(s.scope, key, value) }
func (s *scopedStore) Remove(key string) error              { return s.db.remove(s.scope, key) }
