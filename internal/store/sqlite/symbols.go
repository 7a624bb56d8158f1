package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"market-workbench/internal/model"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const symbolColumns = `id, base, quote, display_name, status, tick_size, min_qty, max_qty, pinned_at, last_updated`

// SymbolPatch is a partial metadata update. Nil fields are left unchanged.
type SymbolPatch struct {
	DisplayName *string             `json:"displayName"`
	Status      *model.SymbolStatus `json:"status"`
	TickSize    *float64            `json:"tickSize"`
	MinQty      *float64            `json:"minQty"`
	MaxQty      *float64            `json:"maxQty"`
}

// GetSymbols returns every symbol, most recently updated first.
func (s *Store) GetSymbols(ctx context.Context) ([]model.CachedSymbol, error) {
	defer s.observe("get_symbols")()
	out := []model.CachedSymbol{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+symbolColumns+` FROM symbols ORDER BY last_updated DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite get symbols: %w", err)
	}
	return out, nil
}

// GetSymbol returns one symbol or ErrNotFound.
func (s *Store) GetSymbol(ctx context.Context, id string) (model.CachedSymbol, error) {
	defer s.observe("get_symbol")()
	return getSymbol(ctx, s.db, id)
}

func getSymbol(ctx context.Context, q sqlx.QueryerContext, id string) (model.CachedSymbol, error) {
	var sym model.CachedSymbol
	err := sqlx.GetContext(ctx, q, &sym, `SELECT `+symbolColumns+` FROM symbols WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CachedSymbol{}, ErrNotFound
	}
	if err != nil {
		return model.CachedSymbol{}, fmt.Errorf("sqlite get symbol %s: %w", id, err)
	}
	return sym, nil
}

// GetPinnedSymbols returns pinned symbols in the order they were pinned.
func (s *Store) GetPinnedSymbols(ctx context.Context) ([]model.CachedSymbol, error) {
	defer s.observe("get_pinned_symbols")()
	out := []model.CachedSymbol{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+symbolColumns+` FROM symbols WHERE pinned_at IS NOT NULL AND pinned_at > 0 ORDER BY pinned_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite get pinned symbols: %w", err)
	}
	return out, nil
}

// SearchSymbols matches q case-insensitively as a substring of the id,
// display name, base or quote. An empty query returns every symbol.
func (s *Store) SearchSymbols(ctx context.Context, q string) ([]model.CachedSymbol, error) {
	defer s.observe("search_symbols")()
	q = strings.TrimSpace(q)
	if q == "" {
		return s.GetSymbols(ctx)
	}
	pattern := "%" + likeEscaper.Replace(strings.ToLower(q)) + "%"
	out := []model.CachedSymbol{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+symbolColumns+` FROM symbols
		WHERE lower(id) LIKE ? ESCAPE '\'
		   OR lower(display_name) LIKE ? ESCAPE '\'
		   OR lower(base) LIKE ? ESCAPE '\'
		   OR lower(quote) LIKE ? ESCAPE '\'
		ORDER BY last_updated DESC, id ASC`,
		pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("sqlite search symbols: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// AddSymbol upserts sym. An existing pin is preserved.
func (s *Store) AddSymbol(ctx context.Context, sym model.Symbol) error {
	return s.AddSymbols(ctx, []model.Symbol{sym})
}

// AddSymbols upserts many symbols in one transaction.
func (s *Store) AddSymbols(ctx context.Context, syms []model.Symbol) error {
	defer s.observe("add_symbols")()
	if len(syms) == 0 {
		return nil
	}
	now := s.nowMs()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, sym := range syms {
			if err := upsertSymbol(ctx, tx, sym, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlite add symbols: %w", err)
	}
	return nil
}

func upsertSymbol(ctx context.Context, tx *sqlx.Tx, sym model.Symbol, now int64) error {
	if sym.Status == "" {
		sym.Status = model.StatusActive
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO symbols (id, base, quote, display_name, status, tick_size, min_qty, max_qty, pinned_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT (id) DO UPDATE SET
			base = excluded.base,
			quote = excluded.quote,
			display_name = excluded.display_name,
			status = excluded.status,
			tick_size = excluded.tick_size,
			min_qty = excluded.min_qty,
			max_qty = excluded.max_qty,
			last_updated = excluded.last_updated`,
		sym.ID, sym.Base, sym.Quote, sym.DisplayName, sym.Status,
		sym.TickSize, sym.MinQty, sym.MaxQty, now)
	return err
}

// UpdateSymbol applies patch to an existing symbol. A patch that leaves the
// symbol invalid returns a *model.ValidationError and changes nothing.
func (s *Store) UpdateSymbol(ctx context.Context, id string, patch SymbolPatch) error {
	defer s.observe("update_symbol")()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := getSymbol(ctx, tx, id)
		if err != nil {
			return err
		}
		sym := cur.Symbol
		if patch.DisplayName != nil {
			sym.DisplayName = *patch.DisplayName
		}
		if patch.Status != nil {
			sym.Status = *patch.Status
		}
		if patch.TickSize != nil {
			sym.TickSize = patch.TickSize
		}
		if patch.MinQty != nil {
			sym.MinQty = patch.MinQty
		}
		if patch.MaxQty != nil {
			sym.MaxQty = patch.MaxQty
		}
		if err := sym.Validate(); err != nil {
			return err
		}
		return upsertSymbol(ctx, tx, sym, s.nowMs())
	})
}

// RemoveSymbol deletes a symbol. Removing a missing symbol is not an error.
func (s *Store) RemoveSymbol(ctx context.Context, id string) error {
	defer s.observe("remove_symbol")()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM symbols WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite remove symbol %s: %w", id, err)
	}
	return nil
}

// PinSymbol stamps pinnedAt with the current time.
func (s *Store) PinSymbol(ctx context.Context, id string) error {
	defer s.observe("pin_symbol")()
	return s.setPin(ctx, id, sql.NullInt64{Int64: s.nowMs(), Valid: true})
}

// UnpinSymbol clears pinnedAt.
func (s *Store) UnpinSymbol(ctx context.Context, id string) error {
	defer s.observe("unpin_symbol")()
	return s.setPin(ctx, id, sql.NullInt64{})
}

func (s *Store) setPin(ctx context.Context, id string, at sql.NullInt64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE symbols SET pinned_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("sqlite pin %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSymbols deletes every symbol.
func (s *Store) ClearSymbols(ctx context.Context) error {
	defer s.observe("clear_symbols")()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM symbols`); err != nil {
		return fmt.Errorf("sqlite clear symbols: %w", err)
	}
	return nil
}

// SeedDefaultSymbols inserts model.DefaultSymbols when the table is empty
// and reports whether it did.
func (s *Store) SeedDefaultSymbols(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM symbols`); err != nil {
		return false, fmt.Errorf("sqlite count symbols: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if err := s.AddSymbols(ctx, model.DefaultSymbols()); err != nil {
		return false, err
	}
	s.logger.Info("seeded default symbols", zap.Int("count", len(model.DefaultSymbols())))
	return true, nil
}
