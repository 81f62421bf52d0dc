// Package backoff computes retry delays and drives bounded retry loops for
// transient backend failures.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff curve.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter is a fraction (0.0 to 1.0) of the base delay added at random.
	Jitter float64
}

// ProviderPolicy is the curve used for LLM backend calls: 500ms doubling up
// to 20s with 20% jitter.
func ProviderPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     20 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay returns the wait before the given retry (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*random
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total/float64(time.Millisecond))) * time.Millisecond
}
