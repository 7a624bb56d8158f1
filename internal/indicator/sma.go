package indicator

import "market-workbench/internal/model"

// SMA returns the trailing mean of closes. The window is truncated at the
// start of the series rather than padded.
func SMA(candles []model.Candle, period int) []float64 {
	period = normPeriod(period)
	out := make([]float64, len(candles))

	for i := range candles {
		start := max(0, i-period+1)
		sum := 0.0
		for j := start; j <= i; j++ {
			sum += candles[j].C
		}
		out[i] = sum / float64(i-start+1)
	}
	return out
}
