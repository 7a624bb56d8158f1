package model

// SymbolStatus is the listing status of a symbol.
type SymbolStatus string

const (
	StatusActive   SymbolStatus = "active"
	StatusInactive SymbolStatus = "inactive"
	StatusDelisted SymbolStatus = "delisted"
)

// Symbol is a tradeable instrument. ID, Base and Quote are never empty.
type Symbol struct {
	ID          string       `json:"id" db:"id" validate:"required"`
	Base        string       `json:"base" db:"base" validate:"required"`
	Quote       string       `json:"quote" db:"quote" validate:"required"`
	DisplayName string       `json:"displayName" db:"display_name"`
	Status      SymbolStatus `json:"status" db:"status" validate:"oneof=active inactive delisted"`
	TickSize    *float64     `json:"tickSize,omitempty" db:"tick_size" validate:"omitempty,gt=0"`
	MinQty      *float64     `json:"minQty,omitempty" db:"min_qty" validate:"omitempty,gt=0"`
	MaxQty      *float64     `json:"maxQty,omitempty" db:"max_qty" validate:"omitempty,gt=0"`
}

// CachedSymbol adds watchlist state. PinnedAt is nil when not pinned.
type CachedSymbol struct {
	Symbol
	PinnedAt    *int64 `json:"pinnedAt,omitempty" db:"pinned_at"`
	LastUpdated int64  `json:"lastUpdated" db:"last_updated"`
}

// Pinned reports whether the symbol is on the pinned watchlist.
func (s CachedSymbol) Pinned() bool {
	return s.PinnedAt != nil && *s.PinnedAt > 0
}

// Validate checks an already typed symbol, e.g. after a partial update.
func (s Symbol) Validate() error {
	if issues := structIssues(s); len(issues) > 0 {
		return &ValidationError{Entity: "symbol", Issues: issues}
	}
	return nil
}

// ParseSymbol builds a Symbol from a raw JSON object. A missing status
// defaults to active.
func ParseSymbol(raw []byte) (Symbol, error) {
	r := newFieldReader("symbol", raw)
	s := Symbol{
		ID:          r.str("id"),
		Base:        r.str("base"),
		Quote:       r.str("quote"),
		DisplayName: r.str("displayName"),
		Status:      StatusActive,
		TickSize:    r.optNumber("tickSize"),
		MinQty:      r.optNumber("minQty"),
		MaxQty:      r.optNumber("maxQty"),
	}
	if st, ok := r.optStr("status"); ok {
		s.Status = SymbolStatus(st)
	}
	r.check(s)
	if err := r.err(); err != nil {
		return Symbol{}, err
	}
	return s, nil
}

// DefaultSymbols is the watchlist seeded into an empty cache.
func DefaultSymbols() []Symbol {
	mk := func(base, name string) Symbol {
		return Symbol{
			ID:          base + "USDT",
			Base:        base,
			Quote:       "USDT",
			DisplayName: name + " / Tether",
			Status:      StatusActive,
		}
	}
	return []Symbol{
		mk("BTC", "Bitcoin"),
		mk("ETH", "Ethereum"),
		mk("SOL", "Solana"),
		mk("ADA", "Cardano"),
	}
}
