// Package history archives terminal executions as the supervisor's cleanup
// loop evicts them, so completed work stays inspectable after its record
// leaves the in-memory registry. This is an audit trail, not job
// persistence: nothing here is ever resumed.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id           TEXT PRIMARY KEY,
	command      TEXT NOT NULL,
	state        TEXT NOT NULL,
	return_code  INTEGER,
	retry_count  INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	peak_memory  INTEGER NOT NULL,
	average_cpu  REAL NOT NULL,
	errors       TEXT,
	warnings     TEXT,
	recovery_log TEXT,
	critical     INTEGER NOT NULL,
	ended_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_ended_at ON executions(ended_at);
`

// Entry is one archived execution row.
type Entry struct {
	ID          string
	Command     string
	State       string
	ReturnCode  *int
	RetryCount  int
	Duration    time.Duration
	PeakMemory  uint64
	AverageCPU  float64
	Errors      []string
	Warnings    []string
	RecoveryLog []string
	Critical    bool
	EndedAt     time.Time
}

// Store is a sqlite-backed execution archive.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the archive at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history store %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Archive inserts one terminal execution. It satisfies the supervisor's
// Archiver interface.
func (s *Store) Archive(st lib.ExecutionStatus, endedAt time.Time) error {
	var code any
	if st.ReturnCode != nil {
		code = *st.ReturnCode
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO executions
			(id, command, state, return_code, retry_count, duration_ms,
			 peak_memory, average_cpu, errors, warnings, recovery_log, critical, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Command, st.State.String(), code, st.RetryCount,
		st.Duration.Milliseconds(), st.PeakMemory, st.AverageCPU,
		joinLines(st.Errors), joinLines(st.Warnings), joinLines(st.RecoveryLog),
		st.Critical, endedAt.UTC())
	if err != nil {
		return fmt.Errorf("archive execution %s: %w", st.ID, err)
	}
	return nil
}

// Recent returns up to limit archived executions, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, command, state, return_code, retry_count, duration_ms,
		       peak_memory, average_cpu, errors, warnings, recovery_log, critical, ended_at
		FROM executions ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			code       sql.NullInt64
			durationMS int64
			errs       sql.NullString
			warns      sql.NullString
			recov      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Command, &e.State, &code, &e.RetryCount, &durationMS,
			&e.PeakMemory, &e.AverageCPU, &errs, &warns, &recov, &e.Critical, &e.EndedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if code.Valid {
			c := int(code.Int64)
			e.ReturnCode = &c
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.Errors = splitLines(errs.String)
		e.Warnings = splitLines(warns.String)
		e.RecoveryLog = splitLines(recov.String)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func joinLines(in []string) string {
	return strings.Join(in, "\n")
}

func splitLines(in string) []string {
	if in == "" {
		return nil
	}
	return strings.Split(in, "\n")
}
