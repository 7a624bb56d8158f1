package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"market-workbench/internal/model"

	"github.com/jmoiron/sqlx"
)

// DefaultOrderBookLimit bounds GetOrderBooks when limit is not positive.
const DefaultOrderBookLimit = 10

type orderBookRow struct {
	Symbol       string        `db:"symbol"`
	TS           int64         `db:"ts"`
	Bids         string        `db:"bids"`
	Asks         string        `db:"asks"`
	LastUpdateID sql.NullInt64 `db:"last_update_id"`
}

func (r orderBookRow) decode() (model.OrderBook, error) {
	ob := model.OrderBook{Symbol: r.Symbol, TS: r.TS}
	if err := json.Unmarshal([]byte(r.Bids), &ob.Bids); err != nil {
		return model.OrderBook{}, fmt.Errorf("decode bids: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Asks), &ob.Asks); err != nil {
		return model.OrderBook{}, fmt.Errorf("decode asks: %w", err)
	}
	if r.LastUpdateID.Valid {
		id := r.LastUpdateID.Int64
		ob.LastUpdateID = &id
	}
	return ob, nil
}

// AddOrderBook replaces the stored snapshot of ob.Symbol with ob. Exactly
// one snapshot per symbol remains after it commits.
func (s *Store) AddOrderBook(ctx context.Context, ob model.OrderBook) error {
	defer s.observe("add_orderbook")()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		return replaceOrderBook(ctx, tx, ob)
	})
	if err != nil {
		return fmt.Errorf("sqlite add orderbook %s: %w", ob.Symbol, err)
	}
	return nil
}

func replaceOrderBook(ctx context.Context, tx *sqlx.Tx, ob model.OrderBook) error {
	bids, err := json.Marshal(levelsOrEmpty(ob.Bids))
	if err != nil {
		return fmt.Errorf("encode bids: %w", err)
	}
	asks, err := json.Marshal(levelsOrEmpty(ob.Asks))
	if err != nil {
		return fmt.Errorf("encode asks: %w", err)
	}
	var lastID sql.NullInt64
	if ob.LastUpdateID != nil {
		lastID = sql.NullInt64{Int64: *ob.LastUpdateID, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orderbooks WHERE symbol = ?`, ob.Symbol); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orderbooks (symbol, ts, bids, asks, last_update_id)
		VALUES (?, ?, ?, ?, ?)`, ob.Symbol, ob.TS, string(bids), string(asks), lastID)
	return err
}

func levelsOrEmpty(l []model.BookLevel) []model.BookLevel {
	if l == nil {
		return []model.BookLevel{}
	}
	return l
}

// GetLatestOrderBook returns the stored snapshot of symbol or ErrNotFound.
func (s *Store) GetLatestOrderBook(ctx context.Context, symbol string) (model.OrderBook, error) {
	defer s.observe("get_latest_orderbook")()
	var row orderBookRow
	err := s.db.GetContext(ctx, &row, `
		SELECT symbol, ts, bids, asks, last_update_id FROM orderbooks
		WHERE symbol = ? ORDER BY ts DESC LIMIT 1`, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OrderBook{}, ErrNotFound
	}
	if err != nil {
		return model.OrderBook{}, fmt.Errorf("sqlite get orderbook %s: %w", symbol, err)
	}
	return row.decode()
}

// GetOrderBooks returns up to limit snapshots of symbol, newest first.
func (s *Store) GetOrderBooks(ctx context.Context, symbol string, limit int) ([]model.OrderBook, error) {
	defer s.observe("get_orderbooks")()
	if limit <= 0 {
		limit = DefaultOrderBookLimit
	}
	return s.selectOrderBooks(ctx, symbol, limit)
}

// selectOrderBooks loads snapshots newest first; limit -1 loads all.
func (s *Store) selectOrderBooks(ctx context.Context, symbol string, limit int) ([]model.OrderBook, error) {
	var rows []orderBookRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT symbol, ts, bids, asks, last_update_id FROM orderbooks
		WHERE symbol = ? ORDER BY ts DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite get orderbooks %s: %w", symbol, err)
	}
	out := make([]model.OrderBook, 0, len(rows))
	for _, r := range rows {
		ob, err := r.decode()
		if err != nil {
			return nil, fmt.Errorf("sqlite get orderbooks %s: %w", symbol, err)
		}
		out = append(out, ob)
	}
	return out, nil
}

// ClearOrderBooks deletes the snapshots of symbol.
func (s *Store) ClearOrderBooks(ctx context.Context, symbol string) error {
	defer s.observe("clear_orderbooks")()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM orderbooks WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("sqlite clear orderbooks %s: %w", symbol, err)
	}
	return nil
}

// GetOrderBookStats summarises the stored snapshots of symbol. The average
// spread only counts snapshots with a positive spread.
func (s *Store) GetOrderBookStats(ctx context.Context, symbol string) (model.OrderBookStats, error) {
	defer s.observe("get_orderbook_stats")()
	books, err := s.selectOrderBooks(ctx, symbol, -1)
	if err != nil {
		return model.OrderBookStats{}, err
	}
	st := model.OrderBookStats{Count: len(books)}
	var sum float64
	var n int
	for _, ob := range books {
		if ob.TS > st.LatestUpdate {
			st.LatestUpdate = ob.TS
		}
		if spread, ok := ob.Spread(); ok && spread > 0 {
			sum += spread
			n++
		}
	}
	if n > 0 {
		st.AverageSpread = sum / float64(n)
	}
	return st, nil
}
