package statestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cbtadmin/internal/filter"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS filter_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	criteria TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS filter_preset (
	name TEXT PRIMARY KEY,
	criteria TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLiteStore keeps criteria and presets as JSON rows in an embedded database.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = path
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps :memory: databases alive across calls
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LoadCriteria() (filter.Criteria, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT criteria FROM filter_state WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return filter.Criteria{}, false, nil
	}
	if err != nil {
		return filter.Criteria{}, false, fmt.Errorf("load criteria: %w", err)
	}
	c, err := decodeCriteria(raw)
	if err != nil {
		return filter.Criteria{}, false, err
	}
	return c, true, nil
}

func (s *SQLiteStore) SaveCriteria(c filter.Criteria) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO filter_state (id, criteria, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET criteria = excluded.criteria, updated_at = excluded.updated_at`,
		string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save criteria: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SavePreset(name string, c filter.Criteria) error {
	name, err := validName(name)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode preset: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO filter_preset (name, criteria, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET criteria = excluded.criteria, updated_at = excluded.updated_at`,
		name, string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save preset: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadPreset(name string) (filter.Criteria, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT criteria FROM filter_preset WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return filter.Criteria{}, false, nil
	}
	if err != nil {
		return filter.Criteria{}, false, fmt.Errorf("load preset: %w", err)
	}
	c, err := decodeCriteria(raw)
	if err != nil {
		return filter.Criteria{}, false, err
	}
	return c, true, nil
}

func (s *SQLiteStore) DeletePreset(name string) error {
	res, err := s.db.Exec(`DELETE FROM filter_preset WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete preset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return filter.ErrPresetNotFound
	}
	return nil
}

func (s *SQLiteStore) ListPresets() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM filter_preset ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeCriteria(raw string) (filter.Criteria, error) {
	var c filter.Criteria
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return filter.Criteria{}, fmt.Errorf("decode criteria: %w", err)
	}
	return c, nil
}
