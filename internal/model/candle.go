package model

import "sort"

// Candle is an immutable OHLCV bar. T is the bar start in epoch milliseconds.
// Wire names follow the feed protocol: {"t","o","h","l","c","v"}.
type Candle struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// TypicalPrice returns (high+low+close)/3.
func (c Candle) TypicalPrice() float64 {
	return (c.H + c.L + c.C) / 3
}

// CachedCandle is a Candle tagged with the symbol and interval it belongs to.
// (Symbol, Interval, T) is unique in the cache; later writes overwrite.
type CachedCandle struct {
	Candle
	Symbol   string `json:"symbol" db:"symbol"`
	Interval string `json:"interval" db:"interval"`
}

// MergeCandles merges live bars into a history series by timestamp.
// A live bar replaces a history bar with the same T. The result is ascending.
func MergeCandles(history, live []Candle) []Candle {
	byT := make(map[int64]int, len(history)+len(live))
	out := make([]Candle, 0, len(history)+len(live))
	for _, series := range [][]Candle{history, live} {
		for _, c := range series {
			if i, ok := byT[c.T]; ok {
				out[i] = c
				continue
			}
			byT[c.T] = len(out)
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].T < out[j].T })
	return out
}
