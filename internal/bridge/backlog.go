package bridge

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"energybridge/internal/metrics"
	"energybridge/pkg/types"
)

// OverflowPolicy decides which point is given up when a full backlog receives another.
type OverflowPolicy string

const (
	DropOldest OverflowPolicy = "drop-oldest"
	RejectNew  OverflowPolicy = "reject-new"
)

// ParseOverflowPolicy validates a configured policy name.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case DropOldest, RejectNew:
		return OverflowPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown backlog overflow policy %q (want %q or %q)", s, DropOldest, RejectNew)
	}
}

// Backlog is the FIFO of points waiting for delivery. A capacity of 0 means unbounded.
type Backlog struct {
	capacity int
	policy   OverflowPolicy
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	points []types.MeasurementPoint
}

// NewBacklog creates an empty backlog.
func NewBacklog(capacity int, policy OverflowPolicy, logger *zap.Logger, m *metrics.Metrics) *Backlog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == "" {
		policy = DropOldest
	}
	return &Backlog{
		capacity: capacity,
		policy:   policy,
		logger:   logger.With(zap.String("component", "backlog")),
		metrics:  m,
	}
}

// Push appends p. When the backlog is full the point given up under the overflow
// policy is returned (the oldest queued point, or p itself); otherwise nil.
func (b *Backlog) Push(p types.MeasurementPoint) *types.MeasurementPoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped *types.MeasurementPoint
	if b.capacity > 0 && len(b.points) >= b.capacity {
		switch b.policy {
		case RejectNew:
			rejected := p
			b.metrics.IncDropped(string(b.policy))
			b.logger.Warn("Backlog full, rejecting new point",
				zap.String("series", p.SeriesKey),
				zap.Int("capacity", b.capacity))
			return &rejected
		default:
			oldest := b.points[0]
			b.points[0] = types.MeasurementPoint{}
			b.points = b.points[1:]
			dropped = &oldest
			b.metrics.IncDropped(string(b.policy))
			b.logger.Warn("Backlog full, dropping oldest point",
				zap.String("series", oldest.SeriesKey),
				zap.Int64("timestamp", oldest.Timestamp),
				zap.Int("capacity", b.capacity))
		}
	}

	b.points = append(b.points, p)
	b.sizeChanged()
	b.logger.Info("Point added to backlog",
		zap.String("series", p.SeriesKey),
		zap.Int("size", len(b.points)))
	return dropped
}

// PopFront removes and returns the oldest point.
func (b *Backlog) PopFront() (types.MeasurementPoint, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.points) == 0 {
		return types.MeasurementPoint{}, false
	}
	p := b.points[0]
	b.points[0] = types.MeasurementPoint{}
	b.points = b.points[1:]
	b.sizeChanged()
	return p, true
}

// PushFront puts a point back at the head of the queue, undoing PopFront.
// It ignores the capacity so a failed drain never loses the point it popped.
func (b *Backlog) PushFront(p types.MeasurementPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.points = append(b.points, types.MeasurementPoint{})
	copy(b.points[1:], b.points)
	b.points[0] = p
	b.sizeChanged()
}

// Len returns the number of queued points.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.points)
}

// Snapshot returns a copy of the queued points, oldest first.
func (b *Backlog) Snapshot() []types.MeasurementPoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.MeasurementPoint, len(b.points))
	copy(out, b.points)
	return out
}

// Restore appends previously saved points behind anything already queued, applying
// the overflow policy. It returns the points that did not fit.
func (b *Backlog) Restore(points []types.MeasurementPoint) []types.MeasurementPoint {
	var dropped []types.MeasurementPoint
	for _, p := range points {
		if d := b.Push(p); d != nil {
			dropped = append(dropped, *d)
		}
	}
	return dropped
}

// sizeChanged must be called with b.mu held.
func (b *Backlog) sizeChanged() {
	b.metrics.SetBacklogSize(len(b.points))
	if len(b.points) == 0 {
		b.logger.Info("Backlog empty")
	}
}
