package indicator

import (
	"errors"
	"fmt"

	"market-workbench/internal/model"
)

// ErrUnknownKind is returned by Compute for an unrecognised Kind.
var ErrUnknownKind = errors.New("indicator: unknown kind")

// Kind names an indicator.
type Kind string

const (
	KindEMA       Kind = "ema"
	KindVWAP      Kind = "vwap"
	KindRSI       Kind = "rsi"
	KindSMA       Kind = "sma"
	KindBollinger Kind = "bollinger"
	KindAll       Kind = "all"
)

// Valid reports whether k is a kind Compute understands.
func (k Kind) Valid() bool {
	switch k {
	case KindEMA, KindVWAP, KindRSI, KindSMA, KindBollinger, KindAll:
		return true
	}
	return false
}

// Request describes one indicator computation.
type Request struct {
	Kind   Kind    `json:"kind"`
	Period int     `json:"period,omitempty"`
	StdDev float64 `json:"stdDev,omitempty"`
}

// Result holds the output of Compute. Exactly one of Series, Bands or All is
// set, depending on the request kind.
type Result struct {
	Kind   Kind      `json:"kind"`
	Series []float64 `json:"series,omitempty"`
	Bands  *Bands    `json:"bands,omitempty"`
	All    *All      `json:"all,omitempty"`
}

// All is the bundled output of ComputeAll.
type All struct {
	EMA       []float64 `json:"ema"`
	VWAP      []float64 `json:"vwap"`
	RSI       []float64 `json:"rsi"`
	Bollinger Bands     `json:"bollinger"`
}

// ComputeAll runs EMA(14), VWAP, RSI(14) and Bollinger(20, 2).
func ComputeAll(candles []model.Candle) All {
	return All{
		EMA:       EMA(candles, DefaultEMAPeriod),
		VWAP:      VWAP(candles),
		RSI:       RSI(candles, DefaultRSIPeriod),
		Bollinger: BollingerBands(candles, DefaultBollingerPeriod, DefaultBollingerStdDev),
	}
}

// Compute dispatches a request. Zero periods fall back to the defaults.
func Compute(candles []model.Candle, req Request) (Result, error) {
	res := Result{Kind: req.Kind}
	switch req.Kind {
	case KindEMA:
		res.Series = EMA(candles, orDefault(req.Period, DefaultEMAPeriod))
	case KindVWAP:
		res.Series = VWAP(candles)
	case KindRSI:
		res.Series = RSI(candles, orDefault(req.Period, DefaultRSIPeriod))
	case KindSMA:
		res.Series = SMA(candles, orDefault(req.Period, DefaultBollingerPeriod))
	case KindBollinger:
		std := req.StdDev
		if std == 0 {
			std = DefaultBollingerStdDev
		}
		b := BollingerBands(candles, orDefault(req.Period, DefaultBollingerPeriod), std)
		res.Bands = &b
	case KindAll:
		all := ComputeAll(candles)
		res.All = &all
	default:
		return Result{}, fmt.Errorf("%w %q", ErrUnknownKind, req.Kind)
	}
	return res, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
