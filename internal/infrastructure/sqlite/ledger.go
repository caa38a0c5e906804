// Package sqlite keeps the merge ledger in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/741g/vperfetto/internal/domain"
	_ "modernc.org/sqlite"
)

// timeLayout has a fixed width so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const columns = `merge_id, source, guest_file, host_file, combined_file,
    guest_bytes, host_bytes, combined_bytes, time_diff_ns, time_diff_mode,
    guest_tsc_offset, merge_guest_into_host, add_traces, object_key,
    created_at, updated_at`

// Ledger stores merge records.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory ledger.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: SQLite allows a single writer, and each ":memory:"
	// connection would otherwise be a separate database.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Put(ctx context.Context, m *domain.MergeRecord) error {
	_, err := l.db.ExecContext(ctx, `INSERT OR REPLACE INTO merges (`+columns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MergeID, m.Source, m.GuestFile, m.HostFile, m.CombinedFile,
		m.GuestBytes, m.HostBytes, m.CombinedBytes,
		strconv.FormatUint(m.TimeDiffNs, 10), string(m.TimeDiffMode),
		m.GuestTSCOffset, m.MergeGuestIntoHost, m.AddTraces, m.ObjectKey,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert merge: %w", err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, mergeID string) (*domain.MergeRecord, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+columns+` FROM merges WHERE merge_id = ?`, mergeID)
	m, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("merge not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]domain.MergeRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+columns+` FROM merges ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list merges: %w", err)
	}
	defer rows.Close()

	var out []domain.MergeRecord
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (l *Ledger) SetObjectKey(ctx context.Context, mergeID, key string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE merges SET object_key = ?, updated_at = ? WHERE merge_id = ?`,
		key, formatTime(time.Now()), mergeID)
	if err != nil {
		return fmt.Errorf("update merge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("merge not found: %w", domain.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*domain.MergeRecord, error) {
	var (
		m                  domain.MergeRecord
		diff, mode         string
		created, updated   string
		intoHost, addTrace bool
	)
	err := s.Scan(&m.MergeID, &m.Source, &m.GuestFile, &m.HostFile, &m.CombinedFile,
		&m.GuestBytes, &m.HostBytes, &m.CombinedBytes, &diff, &mode,
		&m.GuestTSCOffset, &intoHost, &addTrace, &m.ObjectKey,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	if m.TimeDiffNs, err = strconv.ParseUint(diff, 10, 64); err != nil {
		return nil, fmt.Errorf("parse time_diff_ns %q: %w", diff, err)
	}
	m.TimeDiffMode = domain.TimeDiffMode(mode)
	m.MergeGuestIntoHost = intoHost
	m.AddTraces = addTrace
	if m.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if m.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
