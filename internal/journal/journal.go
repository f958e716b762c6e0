// Package journal persists partial-download state across process
// restarts, so an interrupted resumable transfer can be continued later
// and a partial whose remote changed underneath it can be detected and
// discarded instead of appended to.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Partial is the recorded state of an interrupted resumable download.
type Partial struct {
	URL          string
	Destination  string
	BytesWritten int64
	ETag         string
	LastModified string
	Attempts     int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Journal is a SQLite-backed store of partial-download records.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at dbPath.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func (j *Journal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS partial_downloads (
			url TEXT PRIMARY KEY,
			destination TEXT NOT NULL,
			bytes_written INTEGER NOT NULL DEFAULT 0,
			etag TEXT NOT NULL DEFAULT '',
			last_modified TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := j.db.Exec(schema); err != nil {
		return err
	}
	_, err := j.db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_partial_downloads_updated ON partial_downloads(updated_at)`)
	return err
}

// Record upserts the partial state for a URL after an interrupted
// transfer.
func (j *Journal) Record(p *Partial) error {
	query := `
		INSERT INTO partial_downloads (url, destination, bytes_written, etag, last_modified, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(url) DO UPDATE SET
			destination = excluded.destination,
			bytes_written = excluded.bytes_written,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = datetime('now')
	`
	_, err := j.db.Exec(query,
		p.URL, p.Destination, p.BytesWritten, p.ETag, p.LastModified, p.Attempts, p.LastError)
	return err
}

// Get returns the partial record for a URL, or nil when none exists.
func (j *Journal) Get(url string) (*Partial, error) {
	query := `
		SELECT url, destination, bytes_written, etag, last_modified,
			   attempts, last_error, created_at, updated_at
		FROM partial_downloads
		WHERE url = ?
	`

	p := &Partial{}
	err := j.db.QueryRow(query, url).Scan(
		&p.URL, &p.Destination, &p.BytesWritten, &p.ETag, &p.LastModified,
		&p.Attempts, &p.LastError, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Complete removes the record for a URL after a successful transfer.
func (j *Journal) Complete(url string) error {
	_, err := j.db.Exec("DELETE FROM partial_downloads WHERE url = ?", url)
	return err
}

// Fail bumps the attempt counter and stores the latest error for a URL,
// keeping the record so the next run can resume.
func (j *Journal) Fail(url, errMsg string) error {
	query := `
		UPDATE partial_downloads
		SET attempts = attempts + 1, last_error = ?, updated_at = datetime('now')
		WHERE url = ?
	`
	_, err := j.db.Exec(query, errMsg, url)
	return err
}

// PruneStale deletes records not updated within the given duration.
// Their partial files are abandoned by then and a fresh download is
// cheaper than trusting them.
func (j *Journal) PruneStale(olderThan time.Duration) (int, error) {
	// updated_at is stored as datetime('now') text; the cutoff must use
	// the same format for the comparison to hold.
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	result, err := j.db.Exec(
		"DELETE FROM partial_downloads WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	count, err := result.RowsAffected()
	return int(count), err
}
