// Package indicator computes technical indicator series over candle data.
//
// Every function is pure: it reads an ascending candle slice and returns a
// new series of the same length. Nothing is shared between calls, so work can
// be farmed out to a Pool without locking.
package indicator

// Default periods used by ComputeAll.
const (
	DefaultEMAPeriod       = 14
	DefaultRSIPeriod       = 14
	DefaultBollingerPeriod = 20
	DefaultBollingerStdDev = 2.0
)

// Bands is the Bollinger Bands output.
type Bands struct {
	Upper  []float64 `json:"upper"`
	Middle []float64 `json:"middle"`
	Lower  []float64 `json:"lower"`
}

// normPeriod treats non-positive periods as 1.
func normPeriod(period int) int {
	if period < 1 {
		return 1
	}
	return period
}
