package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"energybridge/internal/sinkerr"
	"energybridge/pkg/types"
)

var errTimeout = sinkerr.Retryable(errors.New("write timeout"))

// fakeSink records written lines and replays scripted write errors in order.
type fakeSink struct {
	mu           sync.Mutex
	ready        bool
	writeErrs    []error
	lines        []string
	writes       int
	pingErr      error
	pings        int
	reconnectErr error
	reconnects   int
}

func newFakeSink() *fakeSink {
	return &fakeSink{ready: true}
}

func (s *fakeSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSink) WriteLine(_ context.Context, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if len(s.writeErrs) > 0 {
		err := s.writeErrs[0]
		s.writeErrs = s.writeErrs[1:]
		if err != nil {
			return err
		}
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *fakeSink) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.pingErr
}

func (s *fakeSink) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	if s.reconnectErr != nil {
		return s.reconnectErr
	}
	s.ready = true
	s.pingErr = nil
	return nil
}

func (s *fakeSink) failNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErrs = append(s.writeErrs, errs...)
}

func (s *fakeSink) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *fakeSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// fakeSession is a scripted MQTT session.
type fakeSession struct {
	mu           sync.Mutex
	state        types.ConnectionState
	reconnectErr error
	reconnects   int
	now          func() time.Time
}

func (s *fakeSession) State() types.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	if s.reconnectErr != nil {
		s.state.ReconnectAttempts++
		return s.reconnectErr
	}
	s.state.Connected = true
	s.state.State = types.SessionConnected
	s.state.ReconnectAttempts = 0
	s.state.LastMessageTime = s.now()
	return nil
}

type countingDrainer struct {
	calls  int
	queued int
}

func (d *countingDrainer) Drain(context.Context) int {
	d.calls++
	n := d.queued
	d.queued = 0
	return n
}

func (d *countingDrainer) BacklogLen() int {
	return d.queued
}

// recordingDropHandler collects points given up by the backlog.
type recordingDropHandler struct {
	mu     sync.Mutex
	points []types.MeasurementPoint
}

func (h *recordingDropHandler) HandleDropped(_ context.Context, p types.MeasurementPoint, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.points = append(h.points, p)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingSleep replaces sleepContext and returns immediately.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func point(i int) types.MeasurementPoint {
	return types.MeasurementPoint{
		SeriesKey: "energybridge-a1b2c3.event.metering.summation.minute",
		Field:     types.FieldValue,
		Value:     float64(i),
		Timestamp: 1700000000 + int64(i),
	}
}

func lineFor(i int) string {
	return fmt.Sprintf("energybridge-a1b2c3.event.metering.summation.minute value=%d.00 %d\n", i, 1700000000+i)
}
