package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"energybridge/internal/metrics"
	"energybridge/pkg/types"
)

var testHealthConfig = types.HealthConfig{
	PollInterval:         5 * time.Second,
	SinkCheckInterval:    30 * time.Second,
	BusCheckInterval:     30 * time.Second,
	MessageTimeout:       5 * time.Minute,
	ReconnectDelay:       10 * time.Second,
	MaxReconnectAttempts: 3,
}

type healthFixture struct {
	sink    *fakeSink
	session *fakeSession
	drainer *countingDrainer
	clock   *fakeClock
	sleep   *recordingSleep
	monitor *HealthMonitor
}

func newHealthFixture(t *testing.T) *healthFixture {
	clock := newFakeClock()
	session := &fakeSession{now: clock.Now}
	session.state = types.ConnectionState{
		State:           types.SessionConnected,
		Connected:       true,
		LastMessageTime: clock.Now(),
	}

	f := &healthFixture{
		sink:    newFakeSink(),
		session: session,
		drainer: &countingDrainer{},
		clock:   clock,
		sleep:   &recordingSleep{},
	}
	f.monitor = NewHealthMonitor(testHealthConfig, f.sink, f.session, f.drainer, zaptest.NewLogger(t), metrics.New())
	f.monitor.now = clock.Now
	f.monitor.sleep = f.sleep.Sleep
	return f
}

func TestBusHealthy(t *testing.T) {
	now := time.Now()
	timeout := time.Minute

	assert.True(t, BusHealthy(types.ConnectionState{Connected: true, LastMessageTime: now}, now, timeout))
	assert.True(t, BusHealthy(types.ConnectionState{Connected: true, LastMessageTime: now.Add(-timeout)}, now, timeout))
	assert.False(t, BusHealthy(types.ConnectionState{Connected: true, LastMessageTime: now.Add(-timeout - time.Second)}, now, timeout))
	assert.False(t, BusHealthy(types.ConnectionState{Connected: false, LastMessageTime: now}, now, timeout))
}

func TestHealthyPassDoesNothing(t *testing.T) {
	f := newHealthFixture(t)

	f.monitor.CheckOnce(context.Background())

	assert.Equal(t, 1, f.sink.pings)
	assert.Equal(t, 0, f.sink.reconnects)
	assert.Equal(t, 0, f.session.reconnects)
	assert.Equal(t, 0, f.drainer.calls)
}

func TestChecksRespectIntervals(t *testing.T) {
	f := newHealthFixture(t)

	f.monitor.CheckOnce(context.Background())
	f.clock.Advance(5 * time.Second)
	f.monitor.CheckOnce(context.Background())
	assert.Equal(t, 1, f.sink.pings)

	f.clock.Advance(25 * time.Second)
	f.monitor.CheckOnce(context.Background())
	assert.Equal(t, 2, f.sink.pings)
}

func TestHealthyTickDrainsBacklog(t *testing.T) {
	f := newHealthFixture(t)
	f.drainer.queued = 3

	f.monitor.CheckOnce(context.Background())

	assert.Equal(t, 1, f.sink.pings)
	assert.Equal(t, 0, f.sink.reconnects)
	assert.Equal(t, 1, f.drainer.calls)
	assert.Equal(t, 0, f.drainer.BacklogLen())
}

func TestTickBetweenSinkChecksDrainsBacklog(t *testing.T) {
	f := newHealthFixture(t)
	f.monitor.CheckOnce(context.Background())
	assert.Equal(t, 0, f.drainer.calls)

	f.drainer.queued = 2
	f.clock.Advance(5 * time.Second)
	f.monitor.CheckOnce(context.Background())

	assert.Equal(t, 1, f.sink.pings)
	assert.Equal(t, 1, f.drainer.calls)
}

func TestTickSkipsDrainWhileSinkDown(t *testing.T) {
	f := newHealthFixture(t)
	f.sink.ready = false
	f.sink.reconnectErr = errors.New("connection refused")
	f.drainer.queued = 3

	f.monitor.CheckOnce(context.Background())

	assert.Equal(t, 0, f.drainer.calls)
	assert.Equal(t, 3, f.drainer.BacklogLen())
}

func TestHealthyTickFlushesPipelineBacklog(t *testing.T) {
	pf := newPipelineFixture(t, 0, 5, 0)
	for i := 1; i <= 3; i++ {
		pf.backlog.Push(point(i))
	}

	hf := newHealthFixture(t)
	monitor := NewHealthMonitor(testHealthConfig, pf.sink, hf.session, pf.p, zaptest.NewLogger(t), metrics.New())
	monitor.now = hf.clock.Now
	monitor.sleep = hf.sleep.Sleep

	monitor.CheckOnce(context.Background())

	assert.Equal(t, 0, pf.p.BacklogLen())
	assert.Equal(t, []string{lineFor(1), lineFor(2), lineFor(3)}, pf.sink.written())
}

func TestSinkReconnectTriggersDrain(t *testing.T) {
	f := newHealthFixture(t)
	f.sink.pingErr = errors.New("connection refused")

	f.monitor.CheckOnce(context.Background())

	assert.Equal(t, 1, f.sink.reconnects)
	assert.Equal(t, 1, f.drainer.calls)
}

func TestSinkNotInitializedIsReconnected(t *testing.T) {
	f := newHealthFixture(t)
	f.sink.ready = false

	f.monitor.CheckOnce(context.Background())

	assert.Equal(t, 0, f.sink.pings)
	assert.Equal(t, 1, f.sink.reconnects)
	assert.True(t, f.sink.Ready())
	assert.Equal(t, 1, f.drainer.calls)
}

func TestSinkReconnectFailureSkipsDrain(t *testing.T) {
	f := newHealthFixture(t)
	f.sink.pingErr = errors.New("connection refused")
	f.sink.reconnectErr = errors.New("connection refused")

	f.monitor.CheckOnce(context.Background())

	assert.Equal(t, 1, f.sink.reconnects)
	assert.Equal(t, 0, f.drainer.calls)
}

func TestSilentBusIsReconnected(t *testing.T) {
	f := newHealthFixture(t)

	// still connected, but nothing received for longer than the message timeout
	f.clock.Advance(6 * time.Minute)
	f.monitor.CheckOnce(context.Background())

	assert.Equal(t, 1, f.session.reconnects)
	assert.Equal(t, f.clock.Now(), f.session.State().LastMessageTime)
	assert.Empty(t, f.sleep.delays)
}

func TestBusReconnectFailureWaitsAndCounts(t *testing.T) {
	f := newHealthFixture(t)
	f.session.state.Connected = false
	f.session.reconnectErr = errors.New("connection refused")

	f.monitor.CheckOnce(context.Background())

	assert.Equal(t, 1, f.session.reconnects)
	assert.Equal(t, 1, f.session.State().ReconnectAttempts)
	assert.Equal(t, []time.Duration{10 * time.Second}, f.sleep.delays)
}

func TestBusGivesUpAfterMaxAttempts(t *testing.T) {
	f := newHealthFixture(t)
	f.session.state.Connected = false
	f.session.reconnectErr = errors.New("connection refused")

	for i := 0; i < 6; i++ {
		f.monitor.CheckOnce(context.Background())
		f.clock.Advance(30 * time.Second)
	}

	assert.Equal(t, testHealthConfig.MaxReconnectAttempts, f.session.reconnects)
	assert.True(t, f.monitor.gaveUp)
}

func TestCheckOnceRecoversPanics(t *testing.T) {
	f := newHealthFixture(t)
	f.monitor.sink = nil

	assert.NotPanics(t, func() {
		f.monitor.CheckOnce(context.Background())
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newHealthFixture(t)
	f.monitor.config.PollInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.monitor.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health monitor did not stop")
	}
}
