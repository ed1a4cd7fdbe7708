package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const factsSchema = `
CREATE TABLE IF NOT EXISTS facts (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// SQLite persists facts in a single-table database.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(factsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", ErrCorrupt, err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM facts`)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	facts := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrCorrupt, err)
		}
		facts[k] = v
	}
	return facts, rows.Err()
}

// Save upserts every fact and removes keys no longer present, in one
// transaction.
func (s *SQLite) Save(ctx context.Context, facts map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS keep (key TEXT PRIMARY KEY)`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM keep`); err != nil {
		return err
	}

	for k, v := range facts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO facts (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
			WHERE facts.value <> excluded.value`, k, v); err != nil {
			return fmt.Errorf("upsert %q: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO keep (key) VALUES (?)`, k); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE key NOT IN (SELECT key FROM keep)`); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
