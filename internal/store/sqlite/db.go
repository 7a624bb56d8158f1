// Package sqlite is the durable market-data cache: symbols, candles, trades,
// order book snapshots and user settings in one SQLite database.
//
// Store implements the storage ports in internal/model. All writes are
// upserts keyed by the entity's natural key, so every operation is safe to
// retry.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("sqlite: not found")

const dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

const schema = `
CREATE TABLE IF NOT EXISTS symbols (
	id           TEXT    PRIMARY KEY,
	base         TEXT    NOT NULL,
	quote        TEXT    NOT NULL,
	display_name TEXT    NOT NULL DEFAULT '',
	status       TEXT    NOT NULL DEFAULT 'active',
	tick_size    REAL,
	min_qty      REAL,
	max_qty      REAL,
	pinned_at    INTEGER,
	last_updated INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_symbols_pinned ON symbols (pinned_at);

CREATE TABLE IF NOT EXISTS candles (
	symbol   TEXT    NOT NULL,
	interval TEXT    NOT NULL,
	t        INTEGER NOT NULL,
	o        REAL    NOT NULL,
	h        REAL    NOT NULL,
	l        REAL    NOT NULL,
	c        REAL    NOT NULL,
	v        REAL    NOT NULL,
	PRIMARY KEY (symbol, interval, t)
);
CREATE INDEX IF NOT EXISTS idx_candles_interval ON candles (interval);

CREATE TABLE IF NOT EXISTS trades (
	id     TEXT    PRIMARY KEY,
	symbol TEXT    NOT NULL,
	price  REAL    NOT NULL,
	qty    REAL    NOT NULL,
	side   TEXT    NOT NULL,
	ts     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades (symbol, ts);

CREATE TABLE IF NOT EXISTS orderbooks (
	symbol         TEXT    NOT NULL,
	ts             INTEGER NOT NULL,
	bids           TEXT    NOT NULL,
	asks           TEXT    NOT NULL,
	last_update_id INTEGER,
	PRIMARY KEY (symbol, ts)
);

CREATE TABLE IF NOT EXISTS settings (
	id           TEXT    PRIMARY KEY,
	data         TEXT    NOT NULL,
	last_updated INTEGER NOT NULL
);
`

// Options configures Open.
type Options struct {
	Logger *zap.Logger
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
	// OpDuration, when set, observes each operation's latency by "op".
	OpDuration *prometheus.HistogramVec
}

// Store is the SQLite-backed cache.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
	opDur  *prometheus.HistogramVec
}

// Open opens (creating if needed) the database at path and applies the
// schema. The pool is limited to one connection so writes serialise.
func Open(path string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	opts.Logger.Info("sqlite cache opened", zap.String("path", path))
	return &Store{
		db:     db,
		logger: opts.Logger.With(zap.String("component", "sqlite")),
		now:    opts.Now,
		opDur:  opts.OpDuration,
	}, nil
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) nowMs() int64 { return s.now().UnixMilli() }

// observe records the duration of op; use as defer s.observe("op")().
func (s *Store) observe(op string) func() {
	if s.opDur == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		s.opDur.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
