package bridge

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"energybridge/internal/metrics"
	"energybridge/pkg/types"
)

// CircuitBreaker stops sink writes after Threshold consecutive failed deliveries.
// Once Cooldown has passed since the last failure the next delivery is let through;
// its outcome closes the breaker again or reopens it with a fresh cooldown.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu                  sync.Mutex
	consecutiveFailures int
	open                bool
	lastFailureTime     time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg types.CircuitBreakerConfig, logger *zap.Logger, m *metrics.Metrics) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		logger:    logger.With(zap.String("component", "circuit_breaker")),
		metrics:   m,
		now:       time.Now,
	}
}

// Allow reports whether a sink write may be attempted now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.open {
		return true
	}
	if cb.now().Sub(cb.lastFailureTime) < cb.cooldown {
		return false
	}

	cb.open = false
	cb.metrics.SetCircuitOpen(false)
	cb.logger.Info("Circuit breaker cooldown elapsed, allowing trial write",
		zap.Duration("cooldown", cb.cooldown),
		zap.Int("consecutive_failures", cb.consecutiveFailures))
	return true
}

// RecordSuccess resets the failure count and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.open || cb.consecutiveFailures >= cb.threshold {
		cb.logger.Info("Circuit breaker closed after successful write")
	}
	cb.consecutiveFailures = 0
	cb.open = false
	cb.metrics.SetCircuitOpen(false)
}

// RecordFailure counts a failed delivery and opens the breaker at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = cb.now()

	if cb.consecutiveFailures >= cb.threshold && !cb.open {
		cb.open = true
		cb.metrics.SetCircuitOpen(true)
		cb.logger.Warn("Circuit breaker opened",
			zap.Int("consecutive_failures", cb.consecutiveFailures),
			zap.Duration("cooldown", cb.cooldown))
	}
}

// State returns a snapshot of the breaker.
func (cb *CircuitBreaker) State() types.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return types.CircuitState{
		ConsecutiveFailures: cb.consecutiveFailures,
		Open:                cb.open,
		LastFailureTime:     cb.lastFailureTime,
	}
}
