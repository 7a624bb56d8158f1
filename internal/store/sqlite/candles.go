package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"market-workbench/internal/model"

	"github.com/jmoiron/sqlx"
)

// GetCandles returns the most recent limit bars of a series in ascending
// time order. limit <= 0 returns the whole series.
func (s *Store) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	defer s.observe("get_candles")()
	out := []model.Candle{}
	var err error
	if limit <= 0 {
		err = s.db.SelectContext(ctx, &out, `
			SELECT t, o, h, l, c, v FROM candles
			WHERE symbol = ? AND interval = ?
			ORDER BY t ASC`, symbol, interval)
	} else {
		err = s.db.SelectContext(ctx, &out, `
			SELECT t, o, h, l, c, v FROM (
				SELECT t, o, h, l, c, v FROM candles
				WHERE symbol = ? AND interval = ?
				ORDER BY t DESC LIMIT ?
			) ORDER BY t ASC`, symbol, interval, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get candles %s %s: %w", symbol, interval, err)
	}
	return out, nil
}

// GetCandlesInRange returns bars with start <= t <= end, ascending.
func (s *Store) GetCandlesInRange(ctx context.Context, symbol, interval string, start, end int64) ([]model.Candle, error) {
	defer s.observe("get_candles_range")()
	out := []model.Candle{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT t, o, h, l, c, v FROM candles
		WHERE symbol = ? AND interval = ? AND t >= ? AND t <= ?
		ORDER BY t ASC`, symbol, interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("sqlite get candles in range %s %s: %w", symbol, interval, err)
	}
	return out, nil
}

// AddCandles upserts candles in one transaction. A bar with an existing
// (symbol, interval, t) replaces the stored one.
func (s *Store) AddCandles(ctx context.Context, symbol, interval string, candles []model.Candle) error {
	defer s.observe("add_candles")()
	if len(candles) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		return insertCandles(ctx, tx, symbol, interval, candles)
	})
	if err != nil {
		return fmt.Errorf("sqlite add candles %s %s: %w", symbol, interval, err)
	}
	return nil
}

func insertCandles(ctx context.Context, tx *sqlx.Tx, symbol, interval string, candles []model.Candle) error {
	stmt, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, interval, t, o, h, l, c, v)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, interval, c.T, c.O, c.H, c.L, c.C, c.V); err != nil {
			return err
		}
	}
	return nil
}

// UpdateCandle upserts a single bar, typically the live one.
func (s *Store) UpdateCandle(ctx context.Context, symbol, interval string, c model.Candle) error {
	return s.AddCandles(ctx, symbol, interval, []model.Candle{c})
}

// GetLatestCandle returns the newest bar of a series or ErrNotFound.
func (s *Store) GetLatestCandle(ctx context.Context, symbol, interval string) (model.Candle, error) {
	defer s.observe("get_latest_candle")()
	var c model.Candle
	err := s.db.GetContext(ctx, &c, `
		SELECT t, o, h, l, c, v FROM candles
		WHERE symbol = ? AND interval = ?
		ORDER BY t DESC LIMIT 1`, symbol, interval)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Candle{}, ErrNotFound
	}
	if err != nil {
		return model.Candle{}, fmt.Errorf("sqlite get latest candle %s %s: %w", symbol, interval, err)
	}
	return c, nil
}

// ClearCandles deletes a symbol's bars for one interval, or for every
// interval when interval is empty.
func (s *Store) ClearCandles(ctx context.Context, symbol, interval string) error {
	defer s.observe("clear_candles")()
	var err error
	if interval == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM candles WHERE symbol = ?`, symbol)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM candles WHERE symbol = ? AND interval = ?`, symbol, interval)
	}
	if err != nil {
		return fmt.Errorf("sqlite clear candles %s: %w", symbol, err)
	}
	return nil
}

// GetCacheInfo reports the row count and time span of a series. An empty
// series has zero values.
func (s *Store) GetCacheInfo(ctx context.Context, symbol, interval string) (model.CandleCacheInfo, error) {
	defer s.observe("get_cache_info")()
	var info model.CandleCacheInfo
	err := s.db.GetContext(ctx, &info, `
		SELECT COUNT(*) AS count, COALESCE(MIN(t), 0) AS oldest, COALESCE(MAX(t), 0) AS newest
		FROM candles WHERE symbol = ? AND interval = ?`, symbol, interval)
	if err != nil {
		return model.CandleCacheInfo{}, fmt.Errorf("sqlite cache info %s %s: %w", symbol, interval, err)
	}
	return info, nil
}
