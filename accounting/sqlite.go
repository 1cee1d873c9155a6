package accounting

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Entry is the accumulated accounting for one download name.
type Entry struct {
	Name         string
	BytesSent    int64
	Downloads    int64
	LastDownload time.Time
}

// SQLiteLedger records per-name byte totals and download counts.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLiteLedger opens, creating if needed, the ledger database at path.
func OpenSQLiteLedger(path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	if err := initLedger(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func initLedger(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transfers (
			name TEXT PRIMARY KEY,
			bytes_sent INTEGER NOT NULL DEFAULT 0,
			downloads INTEGER NOT NULL DEFAULT 0,
			last_download DATETIME
		)
	`)
	return err
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Record adds bytesSent to the entry for displayName and counts one download.
func (l *SQLiteLedger) Record(ctx context.Context, bytesSent int64, displayName string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO transfers (name, bytes_sent, downloads, last_download)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			bytes_sent = bytes_sent + excluded.bytes_sent,
			downloads = downloads + 1,
			last_download = excluded.last_download
	`, displayName, bytesSent, time.Now().UTC())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "SQLiteLedger.Record",
			"display_name": displayName,
			"error":        err.Error(),
		}).Error("Error recording transfer")
		return fmt.Errorf("record transfer of %q: %w", displayName, err)
	}

	return nil
}

// Entries returns every ledger entry, largest byte total first.
func (l *SQLiteLedger) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT name, bytes_sent, downloads, last_download FROM transfers ORDER BY bytes_sent DESC, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var last sql.NullTime
		if err := rows.Scan(&e.Name, &e.BytesSent, &e.Downloads, &last); err != nil {
			return nil, err
		}
		e.LastDownload = last.Time
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Total returns the sum of bytes over all entries.
func (l *SQLiteLedger) Total(ctx context.Context) (int64, error) {
	var total int64
	err := l.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(bytes_sent), 0) FROM transfers").Scan(&total)
	return total, err
}
