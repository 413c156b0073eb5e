package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"energybridge/internal/metrics"
	"energybridge/internal/sinkerr"
	"energybridge/pkg/types"
)

var (
	// ErrSinkNotReady is returned when no sink client has been built yet.
	ErrSinkNotReady = errors.New("sink client not initialized")
	// ErrCircuitOpen is returned while the breaker is short-circuiting writes.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Sink is the time-series store points are written to.
type Sink interface {
	Ready() bool
	WriteLine(ctx context.Context, line string) error
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

// DroppedPointHandler receives points the backlog could not keep.
type DroppedPointHandler interface {
	HandleDropped(ctx context.Context, point types.MeasurementPoint, reason string)
}

// Pipeline delivers points to the sink with retries and a circuit breaker, falling back
// to the backlog when delivery fails. Sink errors never escape Deliver or Drain.
type Pipeline struct {
	sink       Sink
	breaker    *CircuitBreaker
	backlog    *Backlog
	backoff    Backoff
	maxRetries int
	logger     *zap.Logger
	metrics    *metrics.Metrics
	dropped    DroppedPointHandler
	limiter    *rate.Limiter

	// single drain at a time keeps flush order
	drainMu sync.Mutex

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithDroppedPointHandler sets where overflowed points go.
func WithDroppedPointHandler(h DroppedPointHandler) PipelineOption {
	return func(p *Pipeline) {
		p.dropped = h
	}
}

// WithDrainRate limits backlog flushing to perSecond points per second (0 = unlimited).
func WithDrainRate(perSecond float64) PipelineOption {
	return func(p *Pipeline) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithSleep replaces the backoff sleep function.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) PipelineOption {
	return func(p *Pipeline) {
		p.sleep = sleep
	}
}

// WithJitter replaces the jitter sample source; it must return values in [0, 1).
func WithJitter(jitter func() float64) PipelineOption {
	return func(p *Pipeline) {
		p.jitter = jitter
	}
}

// NewPipeline wires a sink, breaker and backlog together.
func NewPipeline(sink Sink, breaker *CircuitBreaker, backlog *Backlog, retry types.RetryConfig, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		sink:       sink,
		breaker:    breaker,
		backlog:    backlog,
		backoff:    NewBackoff(retry),
		maxRetries: retry.MaxRetries,
		logger:     zap.NewNop(),
		sleep:      sleepContext,
		jitter:     randomJitter,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "pipeline"))
	return p
}

// Deliver writes point to the sink, or queues it in the backlog when that fails.
// A successful write also flushes any queued points.
func (p *Pipeline) Deliver(ctx context.Context, point types.MeasurementPoint) bool {
	if err := p.send(ctx, point); err != nil {
		p.logger.Warn("Delivery failed, queueing point",
			zap.String("series", point.SeriesKey),
			zap.Error(err))
		p.enqueue(ctx, point)
		return false
	}

	p.metrics.IncDelivered()
	p.logger.Debug("✓ Point delivered", zap.String("series", point.SeriesKey))

	if p.backlog.Len() > 0 {
		p.Drain(ctx)
	}
	return true
}

// Drain flushes the backlog oldest first and stops at the first failure, leaving the
// failed point at the front. It returns the number of points flushed. Concurrent calls
// return 0 while another drain is running.
func (p *Pipeline) Drain(ctx context.Context) int {
	if !p.drainMu.TryLock() {
		return 0
	}
	defer p.drainMu.Unlock()

	processed := 0
	for {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				break
			}
		}

		point, ok := p.backlog.PopFront()
		if !ok {
			break
		}

		if err := p.send(ctx, point); err != nil {
			p.backlog.PushFront(point)
			p.logger.Warn("Backlog drain stopped",
				zap.Int("processed", processed),
				zap.Int("remaining", p.backlog.Len()),
				zap.Error(err))
			break
		}
		processed++
	}

	if processed > 0 {
		p.metrics.AddDrained(processed)
		p.logger.Info("✓ Drained backlog",
			zap.Int("processed", processed),
			zap.Int("remaining", p.backlog.Len()))
	}
	return processed
}

// BacklogLen returns the number of queued points.
func (p *Pipeline) BacklogLen() int {
	return p.backlog.Len()
}

// send is the write path shared by Deliver and Drain.
func (p *Pipeline) send(ctx context.Context, point types.MeasurementPoint) error {
	if !p.sink.Ready() {
		p.metrics.IncDeliveryFailure("sink_not_ready")
		return ErrSinkNotReady
	}
	if !p.breaker.Allow() {
		p.metrics.IncDeliveryFailure("circuit_open")
		return ErrCircuitOpen
	}

	line := point.Line()
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.backoff.Jittered(attempt-1, p.jitter())
			p.logger.Debug("Retrying sink write",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			if err := p.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		p.metrics.IncAttempt()
		err := p.sink.WriteLine(ctx, line)
		if err == nil {
			p.breaker.RecordSuccess()
			return nil
		}
		if ctx.Err() != nil {
			p.metrics.IncDeliveryFailure("cancelled")
			return err
		}

		lastErr = sinkerr.Classify(err)
		if !sinkerr.IsRetryable(lastErr) {
			p.logger.Error("Non-retryable sink error",
				zap.String("series", point.SeriesKey),
				zap.Error(lastErr))
			p.metrics.IncDeliveryFailure("fatal")
			p.breaker.RecordFailure()
			return lastErr
		}
		p.logger.Warn("Sink write failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", p.maxRetries+1),
			zap.Error(lastErr))
	}

	if ctx.Err() != nil {
		p.metrics.IncDeliveryFailure("cancelled")
		return lastErr
	}
	p.metrics.IncDeliveryFailure("retries_exhausted")
	p.breaker.RecordFailure()
	return lastErr
}

func (p *Pipeline) enqueue(ctx context.Context, point types.MeasurementPoint) {
	if dropped := p.backlog.Push(point); dropped != nil {
		p.enqueueDropped(ctx, *dropped)
	}
}

func (p *Pipeline) enqueueDropped(ctx context.Context, point types.MeasurementPoint) {
	if p.dropped != nil {
		p.dropped.HandleDropped(ctx, point, "backlog overflow")
	}
}
