package feed

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackoff returns an unjittered exponential policy: base, 2*base, ...
// capped at max, never giving up on its own. The attempt budget is enforced
// by the client.
func newBackoff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
