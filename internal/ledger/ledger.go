// Package ledger persists the ignored-tests table: tests excluded from a
// conformance run, with the reason and the run that excluded them.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// IgnoredTest is one row of the ignored-tests table.
type IgnoredTest struct {
	TestID    string
	Reason    string
	RunID     string
	IgnoredAt time.Time
}

// Ledger wraps the SQLite database holding the ignored-tests table.
type Ledger struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS ignored_tests (
	test_id    TEXT PRIMARY KEY,
	reason     TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	ignored_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Open opens or creates the ledger database at path, creating parent
// directories as needed.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: create schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Add records a test as ignored, replacing any previous entry for it.
func (l *Ledger) Add(testID, reason, runID string) error {
	_, err := l.db.Exec(
		`INSERT INTO ignored_tests (test_id, reason, run_id, ignored_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (test_id) DO UPDATE SET
		 reason = excluded.reason, run_id = excluded.run_id, ignored_at = excluded.ignored_at`,
		testID, reason, runID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ledger: add %q: %w", testID, err)
	}
	return nil
}

// List returns all ignored tests ordered by id.
func (l *Ledger) List() ([]IgnoredTest, error) {
	rows, err := l.db.Query(
		`SELECT test_id, reason, run_id, ignored_at FROM ignored_tests ORDER BY test_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var tests []IgnoredTest
	for rows.Next() {
		var t IgnoredTest
		if err := rows.Scan(&t.TestID, &t.Reason, &t.RunID, &t.IgnoredAt); err != nil {
			return nil, fmt.Errorf("ledger: scan row: %w", err)
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// Clean removes the given test ids, or every entry when ids is empty. It
// returns the number of removed rows.
func (l *Ledger) Clean(ids []string) (int64, error) {
	if len(ids) == 0 {
		res, err := l.db.Exec(`DELETE FROM ignored_tests`)
		if err != nil {
			return 0, fmt.Errorf("ledger: clean: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := l.db.Exec(
		fmt.Sprintf(`DELETE FROM ignored_tests WHERE test_id IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("ledger: clean: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
