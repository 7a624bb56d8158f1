package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"market-workbench/internal/model"

	"github.com/jmoiron/sqlx"
)

// DefaultTradeMaxAge is the retention used by PurgeTradesOlderThan when
// maxAge is not positive.
const DefaultTradeMaxAge = 24 * time.Hour

const tradeColumns = `id, symbol, price, qty, side, ts`

// GetTrades returns the newest limit trades of symbol, most recent first.
// limit <= 0 returns all.
func (s *Store) GetTrades(ctx context.Context, symbol string, limit int) ([]model.Trade, error) {
	defer s.observe("get_trades")()
	if limit <= 0 {
		limit = -1
	}
	out := []model.Trade{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+tradeColumns+` FROM trades
		WHERE symbol = ? ORDER BY ts DESC, id DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite get trades %s: %w", symbol, err)
	}
	return out, nil
}

// GetTradesInRange returns trades with start <= ts <= end, most recent first.
func (s *Store) GetTradesInRange(ctx context.Context, symbol string, start, end int64) ([]model.Trade, error) {
	defer s.observe("get_trades_range")()
	out := []model.Trade{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+tradeColumns+` FROM trades
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts DESC, id DESC`, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("sqlite get trades in range %s: %w", symbol, err)
	}
	return out, nil
}

// AddTrade upserts one trade.
func (s *Store) AddTrade(ctx context.Context, t model.Trade) error {
	return s.AddTrades(ctx, []model.Trade{t})
}

// AddTrades upserts trades by id in one transaction.
func (s *Store) AddTrades(ctx context.Context, trades []model.Trade) error {
	defer s.observe("add_trades")()
	if len(trades) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		return insertTrades(ctx, tx, trades)
	})
	if err != nil {
		return fmt.Errorf("sqlite add trades: %w", err)
	}
	return nil
}

func insertTrades(ctx context.Context, tx *sqlx.Tx, trades []model.Trade) error {
	stmt, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO trades (id, symbol, price, qty, side, ts)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, t.ID, t.Symbol, t.Price, t.Qty, string(t.Side), t.TS); err != nil {
			return err
		}
	}
	return nil
}

// GetLatestTrade returns the newest trade of symbol or ErrNotFound.
func (s *Store) GetLatestTrade(ctx context.Context, symbol string) (model.Trade, error) {
	defer s.observe("get_latest_trade")()
	var t model.Trade
	err := s.db.GetContext(ctx, &t, `
		SELECT `+tradeColumns+` FROM trades
		WHERE symbol = ? ORDER BY ts DESC, id DESC LIMIT 1`, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trade{}, ErrNotFound
	}
	if err != nil {
		return model.Trade{}, fmt.Errorf("sqlite get latest trade %s: %w", symbol, err)
	}
	return t, nil
}

// ClearTrades deletes every trade of symbol.
func (s *Store) ClearTrades(ctx context.Context, symbol string) error {
	defer s.observe("clear_trades")()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trades WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("sqlite clear trades %s: %w", symbol, err)
	}
	return nil
}

// GetTradeStats summarises the cached trades of symbol.
func (s *Store) GetTradeStats(ctx context.Context, symbol string) (model.TradeStats, error) {
	defer s.observe("get_trade_stats")()
	var st model.TradeStats
	err := s.db.GetContext(ctx, &st, `
		SELECT COUNT(*) AS count,
		       COALESCE(MIN(ts), 0) AS oldest,
		       COALESCE(MAX(ts), 0) AS newest,
		       COALESCE(SUM(price * qty), 0) AS total_volume
		FROM trades WHERE symbol = ?`, symbol)
	if err != nil {
		return model.TradeStats{}, fmt.Errorf("sqlite trade stats %s: %w", symbol, err)
	}
	return st, nil
}

// PurgeTradesOlderThan deletes trades of symbol older than maxAge and
// returns how many were removed.
func (s *Store) PurgeTradesOlderThan(ctx context.Context, symbol string, maxAge time.Duration) (int64, error) {
	defer s.observe("purge_trades")()
	if maxAge <= 0 {
		maxAge = DefaultTradeMaxAge
	}
	cutoff := s.now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM trades WHERE symbol = ? AND ts < ?`, symbol, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite purge trades %s: %w", symbol, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// TradeSymbols lists the symbols that have cached trades.
func (s *Store) TradeSymbols(ctx context.Context) ([]string, error) {
	out := []string{}
	if err := s.db.SelectContext(ctx, &out, `SELECT DISTINCT symbol FROM trades ORDER BY symbol`); err != nil {
		return nil, fmt.Errorf("sqlite trade symbols: %w", err)
	}
	return out, nil
}
