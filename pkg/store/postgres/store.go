// Package postgres persists call records in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harunnryd/voicegate/pkg/calls"
	"github.com/harunnryd/voicegate/pkg/resilience"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id          TEXT PRIMARY KEY,
	from_number TEXT NOT NULL,
	to_number   TEXT NOT NULL,
	audio_file  TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration    INTEGER NOT NULL DEFAULT 0,
	start_time  TIMESTAMPTZ NOT NULL,
	end_time    TIMESTAMPTZ,
	owner       TEXT NOT NULL,
	dialog_id   TEXT NOT NULL DEFAULT '',
	call_type   TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS calls_status_start_idx ON calls (status, start_time DESC);
`

const selectColumns = `id, from_number, to_number, audio_file, status, duration, start_time, end_time, owner, dialog_id, call_type, error`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config configures the pool.
type Config struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	ConnectRetry int    `mapstructure:"connect_retries"`
}

type Store struct {
	db   querier
	pool *pgxpool.Pool
}

// Open connects, pings (retrying transient startup failures) and ensures the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	retry := resilience.NewRetryPolicy(cfg.ConnectRetry, 500*time.Millisecond)
	if err := retry.Do(ctx, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, c *calls.Call) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO calls (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Origin, c.Destination, c.AudioRef, string(c.Status), c.Duration,
		c.StartTime, c.EndTime, c.Owner, c.DialogID, string(c.CallType), c.Error)
	if err != nil {
		return fmt.Errorf("insert call %s: %w", c.ID, err)
	}
	return nil
}

// Update writes the mutable fields in one statement. The row is only touched
// while its stored status may still move to c.Status, so terminal rows and
// writes computed from a stale read are both refused.
func (s *Store) Update(ctx context.Context, c *calls.Call) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE calls
		SET audio_file = $2, status = $3, duration = $4, end_time = $5,
		    dialog_id = $6, call_type = $7, error = $8
		WHERE id = $1 AND status = ANY($9)`,
		c.ID, c.AudioRef, string(c.Status), c.Duration, c.EndTime,
		c.DialogID, string(c.CallType), c.Error, statusStrings(calls.AllowedFrom(c.Status)))
	if err != nil {
		return fmt.Errorf("update call %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var status string
	err = s.db.QueryRow(ctx, `SELECT status FROM calls WHERE id = $1`, c.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return calls.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update call %s: %w", c.ID, err)
	}
	if calls.Status(status).Terminal() {
		return fmt.Errorf("update call %s: %w", c.ID, calls.ErrTerminal)
	}
	return fmt.Errorf("update call %s: %w: %s -> %s", c.ID, calls.ErrInvalidTransition, status, c.Status)
}

func statusStrings(list []calls.Status) []string {
	out := make([]string, len(list))
	for i, st := range list {
		out[i] = string(st)
	}
	return out
}

func (s *Store) Get(ctx context.Context, id string) (calls.Call, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM calls WHERE id = $1`, id)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return calls.Call{}, calls.ErrNotFound
	}
	if err != nil {
		return calls.Call{}, fmt.Errorf("get call %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) List(ctx context.Context, f calls.Filter) ([]calls.Call, error) {
	f = f.Normalize()
	where, args := buildWhere(f)
	args = append(args, f.Limit, f.Offset())
	query := fmt.Sprintf(`SELECT %s FROM calls%s ORDER BY start_time DESC LIMIT $%d OFFSET $%d`,
		selectColumns, where, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	out := make([]calls.Call, 0, f.Limit)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("list calls: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, f calls.Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM calls`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count calls: %w", err)
	}
	return n, nil
}

func buildWhere(f calls.Filter) (string, []any) {
	if len(f.Statuses) == 0 {
		return "", nil
	}
	statuses := make([]string, 0, len(f.Statuses))
	for _, st := range f.Statuses {
		statuses = append(statuses, strings.TrimSpace(string(st)))
	}
	return ` WHERE status = ANY($1)`, []any{statuses}
}

func scanCall(row pgx.Row) (calls.Call, error) {
	var (
		c        calls.Call
		status   string
		callType string
	)
	err := row.Scan(&c.ID, &c.Origin, &c.Destination, &c.AudioRef, &status, &c.Duration,
		&c.StartTime, &c.EndTime, &c.Owner, &c.DialogID, &callType, &c.Error)
	if err != nil {
		return calls.Call{}, err
	}
	c.Status = calls.Status(status)
	c.CallType = calls.CallType(callType)
	return c, nil
}

var _ calls.Store = (*Store)(nil)
