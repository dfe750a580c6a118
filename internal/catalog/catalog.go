// Package catalog keeps a history of painting runs in a SQL database.
// SQLite is used for file paths and ":memory:"; postgres:// URLs go through pgx.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a run id is not in the catalog
var ErrNotFound = errors.New("run not found")

// Dialect selects placeholder syntax
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// Record describes one completed run
type Record struct {
	ID         string        `json:"id"`
	Descriptor string        `json:"descriptor"`
	Dim        string        `json:"dim"`
	Nmesh      [3]int        `json:"nmesh"`
	BoxSize    [3]float64    `json:"box_size"`
	Ranks      int           `json:"ranks"`
	Total      float64       `json:"total"`
	Output     string        `json:"output"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Catalog stores run records
type Catalog struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn and prepares the schema
func Open(ctx context.Context, dsn string) (*Catalog, error) {
	driver, dialect := "sqlite3", SQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, dialect = "pgx", Postgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if dialect == SQLite {
		// in-memory databases exist per connection
		db.SetMaxOpenConns(1)
	}

	c := New(db, dialect)
	if err := c.Initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an open database
func New(db *sql.DB, dialect Dialect) *Catalog {
	return &Catalog{db: db, dialect: dialect}
}

// Close closes the database
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Initialize ensures the runs table exists
func (c *Catalog) Initialize(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS runs (
	id VARCHAR(36) PRIMARY KEY,
	descriptor TEXT NOT NULL,
	dim VARCHAR(8) NOT NULL,
	nmesh VARCHAR(64) NOT NULL,
	box_size VARCHAR(128) NOT NULL,
	ranks INTEGER NOT NULL,
	total DOUBLE PRECISION NOT NULL,
	output TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	duration_ms BIGINT NOT NULL
)`
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to initialize runs table: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`); err != nil {
		return fmt.Errorf("failed to index runs table: %w", err)
	}
	return nil
}

// Record inserts r, assigning an id and start time when they are unset
func (c *Catalog) Record(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}

	query := c.rebind(`
INSERT INTO runs (id, descriptor, dim, nmesh, box_size, ranks, total, output, started_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := c.db.ExecContext(ctx, query,
		r.ID, r.Descriptor, r.Dim,
		formatInts(r.Nmesh), formatFloats(r.BoxSize),
		r.Ranks, r.Total, r.Output,
		r.StartedAt, r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

const selectRuns = `
SELECT id, descriptor, dim, nmesh, box_size, ranks, total, output, started_at, duration_ms
FROM runs`

// List returns the most recent runs first. A limit of zero or less returns
// every run.
func (c *Catalog) List(ctx context.Context, limit int) ([]*Record, error) {
	query := selectRuns + "\nORDER BY started_at DESC"
	var args []any
	if limit > 0 {
		query += "\nLIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return records, nil
}

// Get returns the run with the given id
func (c *Catalog) Get(ctx context.Context, id string) (*Record, error) {
	row := c.db.QueryRowContext(ctx, c.rebind(selectRuns+"\nWHERE id = ?"), id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	r := &Record{}
	var nmesh, box string
	var durationMS int64
	err := s.Scan(&r.ID, &r.Descriptor, &r.Dim, &nmesh, &box, &r.Ranks, &r.Total, &r.Output, &r.StartedAt, &durationMS)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if r.Nmesh, err = parseInts(nmesh); err != nil {
		return nil, err
	}
	if r.BoxSize, err = parseFloats(box); err != nil {
		return nil, err
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return r, nil
}

// rebind rewrites ? placeholders for the dialect
func (c *Catalog) rebind(query string) string {
	if c.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func formatInts(v [3]int) string {
	return fmt.Sprintf("%d %d %d", v[0], v[1], v[2])
}

func formatFloats(v [3]float64) string {
	parts := make([]string, 3)
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func parseInts(s string) ([3]int, error) {
	var v [3]int
	if _, err := fmt.Sscan(s, &v[0], &v[1], &v[2]); err != nil {
		return v, fmt.Errorf("malformed nmesh %q: %w", s, err)
	}
	return v, nil
}

func parseFloats(s string) ([3]float64, error) {
	var v [3]float64
	if _, err := fmt.Sscan(s, &v[0], &v[1], &v[2]); err != nil {
		return v, fmt.Errorf("malformed box size %q: %w", s, err)
	}
	return v, nil
}
