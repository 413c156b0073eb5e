package bridge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"energybridge/internal/metrics"
	"energybridge/pkg/types"
)

// Session is the inbound message-bus session supervised by the health monitor.
type Session interface {
	State() types.ConnectionState
	Reconnect(ctx context.Context) error
}

// Drainer flushes the backlog.
type Drainer interface {
	Drain(ctx context.Context) int
	BacklogLen() int
}

// HealthMonitor periodically probes the sink and the MQTT session, reconnects
// whichever is unhealthy and drains the backlog on every tick the sink is ready.
type HealthMonitor struct {
	config  types.HealthConfig
	sink    Sink
	session Session
	drainer Drainer
	logger  *zap.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	lastSinkCheck time.Time
	lastBusCheck  time.Time
	gaveUp        bool
}

// NewHealthMonitor creates a monitor; call Run to start it.
func NewHealthMonitor(cfg types.HealthConfig, sink Sink, session Session, drainer Drainer, logger *zap.Logger, m *metrics.Metrics) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{
		config:  cfg,
		sink:    sink,
		session: session,
		drainer: drainer,
		logger:  logger.With(zap.String("component", "health")),
		metrics: m,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Run polls until ctx is cancelled.
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.config.PollInterval)
	defer ticker.Stop()

	h.logger.Info("Health monitor started",
		zap.Duration("sink_check_interval", h.config.SinkCheckInterval),
		zap.Duration("bus_check_interval", h.config.BusCheckInterval))

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Health monitor stopped")
			return
		case <-ticker.C:
			h.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs whichever probes are due. Panics are logged and swallowed so the
// monitor keeps running.
func (h *HealthMonitor) CheckOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Health check panicked", zap.Any("panic", r))
		}
	}()

	now := h.now()
	if now.Sub(h.lastSinkCheck) >= h.config.SinkCheckInterval {
		h.lastSinkCheck = now
		h.checkSink(ctx)
	}

	if h.sink.Ready() && h.drainer.BacklogLen() > 0 {
		if n := h.drainer.Drain(ctx); n > 0 {
			h.logger.Info("Backlog drained on health tick", zap.Int("points", n))
		}
	}

	now = h.now()
	if now.Sub(h.lastBusCheck) >= h.config.BusCheckInterval {
		h.lastBusCheck = now
		h.checkBus(ctx)
	}
}

func (h *HealthMonitor) checkSink(ctx context.Context) {
	if h.sink.Ready() {
		err := h.sink.Ping(ctx)
		if err == nil {
			return
		}
		h.logger.Warn("Sink health check failed", zap.Error(err))
	} else {
		h.logger.Warn("Sink client not initialized")
	}

	if err := h.sink.Reconnect(ctx); err != nil {
		h.metrics.IncReconnect("sink", false)
		h.logger.Error("Sink reconnection failed", zap.Error(err))
		return
	}
	h.metrics.IncReconnect("sink", true)
	h.logger.Info("✓ Sink reconnected")

	if n := h.drainer.Drain(ctx); n > 0 {
		h.logger.Info("Backlog drained after sink recovery", zap.Int("points", n))
	}
}

func (h *HealthMonitor) checkBus(ctx context.Context) {
	state := h.session.State()
	if BusHealthy(state, h.now(), h.config.MessageTimeout) {
		h.gaveUp = false
		return
	}

	if state.ReconnectAttempts >= h.config.MaxReconnectAttempts {
		if !h.gaveUp {
			h.gaveUp = true
			h.logger.Error("MQTT reconnect attempts exhausted, giving up until restart",
				zap.Int("attempts", state.ReconnectAttempts))
		}
		return
	}

	h.logger.Warn("MQTT session unhealthy, reconnecting",
		zap.Bool("connected", state.Connected),
		zap.Time("last_message", state.LastMessageTime),
		zap.Int("attempt", state.ReconnectAttempts+1),
		zap.Int("max_attempts", h.config.MaxReconnectAttempts))

	if err := h.session.Reconnect(ctx); err != nil {
		h.metrics.IncReconnect("mqtt", false)
		h.logger.Error("MQTT reconnection failed",
			zap.Error(err),
			zap.Duration("retry_in", h.config.ReconnectDelay))
		_ = h.sleep(ctx, h.config.ReconnectDelay)
		return
	}
	h.metrics.IncReconnect("mqtt", true)
	h.logger.Info("✓ MQTT session reconnected")
}

// BusHealthy reports whether a session is connected and has seen a message within timeout.
func BusHealthy(state types.ConnectionState, now time.Time, timeout time.Duration) bool {
	if !state.Connected {
		return false
	}
	return now.Sub(state.LastMessageTime) <= timeout
}
