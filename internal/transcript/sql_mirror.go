package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLMirror copies transcript entries into a SQL table. It works with the
// "postgres" (lib/pq) and "sqlite" (modernc) drivers; the caller registers
// the driver.
type SQLMirror struct {
	db *sql.DB
}

func OpenSQLMirror(ctx context.Context, driver, dsn string) (*SQLMirror, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript: open %s: %w", driver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript: ping %s: %w", driver, err)
	}

	m, err := NewSQLMirror(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// NewSQLMirror wraps an open database and creates the table if needed.
func NewSQLMirror(ctx context.Context, db *sql.DB) (*SQLMirror, error) {
	if db == nil {
		return nil, errors.New("transcript: db must not be nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			identity   TEXT   NOT NULL,
			role       TEXT   NOT NULL,
			text       TEXT   NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_entries_identity
			ON transcript_entries (identity, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("transcript: create schema: %w", err)
		}
	}
	return &SQLMirror{db: db}, nil
}

func (m *SQLMirror) Append(ctx context.Context, e Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO transcript_entries (identity, role, text, created_at)
		VALUES ($1, $2, $3, $4)
	`,
		Normalize(e.Identity),
		string(e.Role),
		e.Text,
		ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("transcript: mirror insert: %w", err)
	}
	return nil
}

func (m *SQLMirror) History(ctx context.Context, identity string) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT identity, role, text, created_at
		FROM transcript_entries
		WHERE identity = $1
		ORDER BY created_at ASC
	`, Normalize(identity))
	if err != nil {
		return nil, fmt.Errorf("transcript: mirror query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			role string
			ns   int64
		)
		if err := rows.Scan(&e.Identity, &role, &e.Text, &ns); err != nil {
			return nil, fmt.Errorf("transcript: mirror scan: %w", err)
		}
		e.Role = Role(role)
		e.Timestamp = time.Unix(0, ns)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (m *SQLMirror) Close() error {
	return m.db.Close()
}

// Tee writes to a primary appender and then to every mirror. All targets are
// attempted; the errors are joined.
type Tee struct {
	primary Appender
	mirrors []Appender
	now     func() time.Time
}

func NewTee(primary Appender, mirrors ...Appender) *Tee {
	return &Tee{primary: primary, mirrors: mirrors, now: time.Now}
}

func (t *Tee) Append(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now()
	}
	var errs []error
	if err := t.primary.Append(ctx, e); err != nil {
		errs = append(errs, err)
	}
	for _, m := range t.mirrors {
		if err := m.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
