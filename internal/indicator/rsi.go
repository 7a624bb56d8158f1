package indicator

import "market-workbench/internal/model"

const (
	// RSINeutral fills the first period outputs, where there is not yet
	// enough history to smooth.
	RSINeutral = 50.0

	// RSIUndefined is returned for every point of a series shorter than two
	// candles, where no price change exists at all.
	RSIUndefined = 0.0
)

// RSI returns Wilder's relative strength index of closes.
//
// Initial averages are taken over the first min(period, n-1) changes and
// divided by period. Points before index period are RSINeutral; from period
// on, averages are smoothed with avg = (avg*(period-1) + x) / period.
func RSI(candles []model.Candle, period int) []float64 {
	period = normPeriod(period)
	out := make([]float64, len(candles))
	if len(candles) < 2 {
		for i := range out {
			out[i] = RSIUndefined
		}
		return out
	}

	changes := make([]float64, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		changes[i-1] = candles[i].C - candles[i-1].C
	}

	var avgGain, avgLoss float64
	for i := 0; i < min(period, len(changes)); i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p

	for i := 0; i < period && i < len(out); i++ {
		out[i] = RSINeutral
	}

	for i := period; i < len(candles); i++ {
		change := changes[i-1]
		if change > 0 {
			avgGain = (avgGain*(p-1) + change) / p
			avgLoss = (avgLoss * (p - 1)) / p
		} else {
			avgGain = (avgGain * (p - 1)) / p
			avgLoss = (avgLoss*(p-1) - change) / p
		}

		rs := 100.0
		if avgLoss != 0 {
			rs = avgGain / avgLoss
		}
		out[i] = 100 - 100/(1+rs)
	}
	return out
}
