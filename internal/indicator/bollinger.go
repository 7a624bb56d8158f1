package indicator

import (
	"math"

	"market-workbench/internal/model"
)

// BollingerBands returns SMA(period) with bands at stdDev sample standard
// deviations of the trailing window. A window of one point has zero width.
func BollingerBands(candles []model.Candle, period int, stdDev float64) Bands {
	period = normPeriod(period)
	middle := SMA(candles, period)
	upper := make([]float64, len(candles))
	lower := make([]float64, len(candles))

	for i := range candles {
		start := max(0, i-period+1)
		count := i - start + 1

		sum := 0.0
		for j := start; j <= i; j++ {
			d := candles[j].C - middle[i]
			sum += d * d
		}

		std := 0.0
		if count > 1 {
			std = math.Sqrt(sum / float64(count-1))
		}
		upper[i] = middle[i] + std*stdDev
		lower[i] = middle[i] - std*stdDev
	}

	return Bands{Upper: upper, Middle: middle, Lower: lower}
}
