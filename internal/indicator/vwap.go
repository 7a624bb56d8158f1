package indicator

import "market-workbench/internal/model"

// VWAP returns the running volume-weighted typical price. While cumulative
// volume is zero the typical price itself is used.
func VWAP(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))

	var cumPV, cumV float64
	for i, c := range candles {
		tp := c.TypicalPrice()
		cumPV += tp * c.V
		cumV += c.V
		if cumV > 0 {
			out[i] = cumPV / cumV
		} else {
			out[i] = tp
		}
	}
	return out
}
