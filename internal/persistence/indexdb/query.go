package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// Reader runs queries against an index file, usually while a server keeps
// writing to it.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

func (r *Reader) Sessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT session_id,variant,seed,catalog_digest,created_at,COALESCE(closed_at,'')
		FROM sessions ORDER BY created_at DESC, session_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		var s SessionRow
		if err := rows.Scan(&s.SessionID, &s.Variant, &s.Seed, &s.CatalogDigest, &s.CreatedAt, &s.ClosedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type EventQuery struct {
	SessionID string
	Type      string
	SinceTick uint64
	Limit     int
}

func (r *Reader) Events(ctx context.Context, q EventQuery) ([]EventRow, error) {
	var (
		where []string
		args  []any
	)
	if q.SessionID != "" {
		where = append(where, "session_id=?")
		args = append(args, q.SessionID)
	}
	if q.Type != "" {
		where = append(where, "type=?")
		args = append(args, q.Type)
	}
	if q.SinceTick > 0 {
		where = append(where, "tick>=?")
		args = append(args, int64(q.SinceTick))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT session_id,variant,tick,seq,type,details_json FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY session_id, tick, seq LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var (
			e       EventRow
			tick    int64
			details string
		)
		if err := rows.Scan(&e.SessionID, &e.Variant, &tick, &e.Seq, &e.Type, &details); err != nil {
			return nil, err
		}
		e.Tick = uint64(tick)
		if details != "" && details != "null" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("event %s/%d/%d: %w", e.SessionID, e.Tick, e.Seq, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Summary counts events by type, optionally for one variant.
func (r *Reader) Summary(ctx context.Context, variant string) ([]TypeCount, error) {
	query := `SELECT type, COUNT(*) FROM events`
	var args []any
	if variant != "" {
		query += ` WHERE variant=?`
		args = append(args, variant)
	}
	query += ` GROUP BY type ORDER BY type`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TypeCount
	for rows.Next() {
		var c TypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CatalogDigest returns the stored digest for name, or "" if absent.
func (r *Reader) CatalogDigest(ctx context.Context, name string) (string, error) {
	var d string
	err := r.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name=?`, name).Scan(&d)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return d, err
}
