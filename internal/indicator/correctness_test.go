package indicator

import (
	"math"
	"testing"

	"market-workbench/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func candlesFromCloses(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{T: int64(i) * 60_000, O: c, H: c + 1, L: c - 1, C: c, V: 100}
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertSeries(t *testing.T, label string, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: len %d, want %d", label, len(got), len(want))
	}
	for i := range want {
		assertClose(t, label, got[i], want[i], tol)
	}
}

// trendCloses is the rising series used across the scenario tests.
var trendCloses = []float64{102, 106, 108, 110, 112, 114, 116, 118, 120, 122}

// ────────────────────────────────────────────────────────────
// EMA
// ────────────────────────────────────────────────────────────

func TestEMA_Period3Trend(t *testing.T) {
	got := EMA(candlesFromCloses(trendCloses...), 3)
	want := []float64{102, 104, 106, 108, 110, 112, 114, 116, 118, 120}
	assertSeries(t, "EMA(3)", got, want, 1e-9)
	if got[len(got)-1] <= got[0] {
		t.Errorf("expected upward trend preserved, first=%.2f last=%.2f", got[0], got[len(got)-1])
	}
}

func TestEMA_SeedIsFirstClose(t *testing.T) {
	candles := candlesFromCloses(42.5, 10, 99)
	for _, period := range []int{1, 2, 14, 200} {
		if got := EMA(candles, period)[0]; got != 42.5 {
			t.Errorf("period %d: seed = %v, want 42.5", period, got)
		}
	}
}

// ────────────────────────────────────────────────────────────
// SMA / VWAP
// ────────────────────────────────────────────────────────────

func TestSMA_TruncatedWindow(t *testing.T) {
	got := SMA(candlesFromCloses(1, 2, 3, 4, 5), 3)
	assertSeries(t, "SMA(3)", got, []float64{1, 1.5, 2, 3, 4}, 1e-12)
}

func TestSMA_NonPositivePeriod(t *testing.T) {
	got := SMA(candlesFromCloses(1, 2, 3), 0)
	assertSeries(t, "SMA(0)", got, []float64{1, 2, 3}, 1e-12)
}

func TestVWAP_Cumulative(t *testing.T) {
	candles := []model.Candle{
		{H: 12, L: 8, C: 10, V: 1},
		{H: 22, L: 18, C: 20, V: 3},
	}
	assertSeries(t, "VWAP", VWAP(candles), []float64{10, 17.5}, 1e-12)
}

func TestVWAP_ZeroVolumeFallsBackToTypicalPrice(t *testing.T) {
	candles := []model.Candle{
		{H: 12, L: 6, C: 9, V: 0},
		{H: 3, L: 3, C: 3, V: 0},
	}
	assertSeries(t, "VWAP", VWAP(candles), []float64{9, 3}, 1e-12)
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_HandCalculated(t *testing.T) {
	// changes: +1 -1 +2 -1, period 2
	// seed: avgGain=0.5 avgLoss=0.5
	// i=2: gain .25 loss .75 -> 25
	// i=3: gain 1.125 loss .375 -> 75
	// i=4: gain .5625 loss .6875 -> 45
	got := RSI(candlesFromCloses(10, 11, 10, 12, 11), 2)
	assertSeries(t, "RSI(2)", got, []float64{50, 50, 25, 75, 45}, 1e-9)
}

func TestRSI_NoLossesUsesRS100(t *testing.T) {
	got := RSI(candlesFromCloses(1, 2, 3, 4, 5), 3)
	want := 100 - 100/101.0
	assertClose(t, "RSI[3]", got[3], want, 1e-9)
	assertClose(t, "RSI[4]", got[4], want, 1e-9)
}

func TestRSI_ShortSeriesIsNeutral(t *testing.T) {
	got := RSI(candlesFromCloses(1, 5, 2), 14)
	assertSeries(t, "RSI(14)", got, []float64{50, 50, 50}, 0)
}

func TestRSI_Bounds(t *testing.T) {
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/3) + float64(i%7)
	}
	const period = 14
	got := RSI(candlesFromCloses(closes...), period)
	for i := period; i < len(got); i++ {
		if got[i] < 0 || got[i] > 100 {
			t.Fatalf("RSI[%d] = %v out of [0,100]", i, got[i])
		}
	}
}

// ────────────────────────────────────────────────────────────
// Bollinger
// ────────────────────────────────────────────────────────────

func TestBollinger_SampleStdDev(t *testing.T) {
	b := BollingerBands(candlesFromCloses(2, 4, 4, 4, 5, 5, 7, 9), 8, 2)
	last := len(b.Middle) - 1
	std := math.Sqrt(32.0 / 7.0)
	assertClose(t, "middle", b.Middle[last], 5, 1e-12)
	assertClose(t, "upper", b.Upper[last], 5+2*std, 1e-9)
	assertClose(t, "lower", b.Lower[last], 5-2*std, 1e-9)

	// a single-point window has zero width
	if b.Upper[0] != 2 || b.Lower[0] != 2 {
		t.Errorf("first point bands = [%v, %v], want [2, 2]", b.Lower[0], b.Upper[0])
	}
}

func TestBollinger_Ordering(t *testing.T) {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 50 + 5*math.Cos(float64(i)/4)
	}
	b := BollingerBands(candlesFromCloses(closes...), 20, 2)
	for i := range closes {
		if !(b.Lower[i] <= b.Middle[i] && b.Middle[i] <= b.Upper[i]) {
			t.Fatalf("i=%d: lower=%v middle=%v upper=%v", i, b.Lower[i], b.Middle[i], b.Upper[i])
		}
	}
}

// ────────────────────────────────────────────────────────────
// Edge cases
// ────────────────────────────────────────────────────────────

func TestEmptyInput(t *testing.T) {
	var none []model.Candle
	series := map[string][]float64{
		"EMA":  EMA(none, 14),
		"VWAP": VWAP(none),
		"RSI":  RSI(none, 14),
		"SMA":  SMA(none, 20),
	}
	for name, s := range series {
		if s == nil || len(s) != 0 {
			t.Errorf("%s: expected empty non-nil series, got %v", name, s)
		}
	}
	b := BollingerBands(none, 20, 2)
	if len(b.Upper)+len(b.Middle)+len(b.Lower) != 0 {
		t.Errorf("Bollinger: expected empty bands, got %+v", b)
	}
}

func TestSingleCandle(t *testing.T) {
	one := []model.Candle{{H: 12, L: 6, C: 9, V: 5}}
	assertSeries(t, "EMA", EMA(one, 14), []float64{9}, 0)
	assertSeries(t, "SMA", SMA(one, 14), []float64{9}, 0)
	assertSeries(t, "VWAP", VWAP(one), []float64{9}, 0)
	assertSeries(t, "RSI", RSI(one, 14), []float64{RSIUndefined}, 0)
}

func TestCompute_Dispatch(t *testing.T) {
	candles := candlesFromCloses(trendCloses...)

	res, err := Compute(candles, Request{Kind: KindEMA, Period: 3})
	if err != nil {
		t.Fatalf("Compute(ema): %v", err)
	}
	assertClose(t, "ema last", res.Series[len(res.Series)-1], 120, 1e-9)

	res, err = Compute(candles, Request{Kind: KindBollinger})
	if err != nil || res.Bands == nil {
		t.Fatalf("Compute(bollinger): res=%+v err=%v", res, err)
	}

	if _, err := Compute(candles, Request{Kind: "macd"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestComputeAll_Defaults(t *testing.T) {
	candles := candlesFromCloses(trendCloses...)
	all := ComputeAll(candles)
	assertSeries(t, "ema", all.EMA, EMA(candles, 14), 0)
	assertSeries(t, "rsi", all.RSI, RSI(candles, 14), 0)
	assertSeries(t, "upper", all.Bollinger.Upper, BollingerBands(candles, 20, 2).Upper, 0)
	if len(all.VWAP) != len(candles) {
		t.Errorf("vwap len %d, want %d", len(all.VWAP), len(candles))
	}
}
