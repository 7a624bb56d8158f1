package indicator

import "market-workbench/internal/model"

// EMA returns the exponential moving average of closes. The series is seeded
// with the first close, so out[0] == candles[0].C and there is no warm-up.
func EMA(candles []model.Candle, period int) []float64 {
	out := make([]float64, len(candles))
	if len(candles) == 0 {
		return out
	}
	k := 2.0 / float64(normPeriod(period)+1)

	prev := candles[0].C
	out[0] = prev
	for i := 1; i < len(candles); i++ {
		prev = candles[i].C*k + prev*(1-k)
		out[i] = prev
	}
	return out
}
