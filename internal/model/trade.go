package model

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is a single executed trade. Immutable once created; ID is unique.
type Trade struct {
	ID     string  `json:"id" db:"id" validate:"required"`
	Symbol string  `json:"symbol" db:"symbol" validate:"required"`
	Price  float64 `json:"price" db:"price" validate:"gt=0"`
	Qty    float64 `json:"qty" db:"qty" validate:"gt=0"`
	Side   Side    `json:"side" db:"side" validate:"oneof=buy sell"`
	TS     int64   `json:"ts" db:"ts"` // epoch ms
}

// Notional returns price * qty.
func (t Trade) Notional() float64 {
	return t.Price * t.Qty
}

// ParseCandle builds a Candle from a raw JSON object. Only presence and the
// numeric type of the six fields are checked.
func ParseCandle(raw []byte) (Candle, error) {
	r := newFieldReader("candle", raw)
	c := Candle{
		T: r.integer("t"),
		O: r.number("o"),
		H: r.number("h"),
		L: r.number("l"),
		C: r.number("c"),
		V: r.number("v"),
	}
	if err := r.err(); err != nil {
		return Candle{}, err
	}
	return c, nil
}

// ParseTrade builds a Trade from a raw JSON object.
func ParseTrade(raw []byte) (Trade, error) {
	r := newFieldReader("trade", raw)
	t := Trade{
		ID:     r.str("id"),
		Symbol: r.str("symbol"),
		Price:  r.number("price"),
		Qty:    r.number("qty"),
		Side:   Side(r.str("side")),
		TS:     r.integer("ts"),
	}
	r.check(t)
	if err := r.err(); err != nil {
		return Trade{}, err
	}
	return t, nil
}
