package bridge

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"energybridge/pkg/types"
)

// Jitter bounds as a fraction of the base delay.
const (
	minJitter = 0.10
	maxJitter = 0.30
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Backoff computes exponential retry delays.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// NewBackoff builds a Backoff from the retry configuration.
func NewBackoff(cfg types.RetryConfig) Backoff {
	return Backoff{
		Initial:    cfg.InitialDelay,
		Max:        cfg.MaxDelay,
		Multiplier: cfg.Multiplier,
	}
}

// Delay returns min(Initial * Multiplier^attempt, Max) for a zero-based retry index.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Jittered adds between 10% and 30% of the base delay. r is a sample in [0, 1).
func (b Backoff) Jittered(attempt int, r float64) time.Duration {
	base := b.Delay(attempt)
	fraction := minJitter + (maxJitter-minJitter)*r
	return base + time.Duration(float64(base)*fraction)
}

func randomJitter() float64 {
	randMu.Lock()
	defer randMu.Unlock()
	return randSource.Float64()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
