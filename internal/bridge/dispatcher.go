package bridge

import (
	"context"

	"go.uber.org/zap"

	"energybridge/internal/ingest"
	"energybridge/internal/metrics"
	"energybridge/pkg/types"
)

// Deliverer hands a decoded point to the delivery pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, point types.MeasurementPoint) bool
}

// Dispatcher decodes inbound MQTT messages and passes the points on, one at a time.
type Dispatcher struct {
	decoder   *ingest.Decoder
	deliverer Deliverer
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher creates a dispatcher for one device.
func NewDispatcher(decoder *ingest.Decoder, deliverer Deliverer, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		decoder:   decoder,
		deliverer: deliverer,
		logger:    logger.With(zap.String("component", "dispatcher")),
		metrics:   m,
	}
}

// Run consumes messages until ctx is cancelled or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan *types.MQTTMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			d.Handle(ctx, msg)
		}
	}
}

// Handle processes a single message. Malformed payloads are logged and skipped; a
// panic while handling one message never stops the dispatcher.
func (d *Dispatcher) Handle(ctx context.Context, msg *types.MQTTMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic while handling message",
				zap.String("topic", msg.Topic),
				zap.Any("panic", r))
		}
	}()

	point, ok := d.decode(msg)
	if !ok {
		return
	}
	d.deliverer.Deliver(ctx, point)
}

// Pending decodes the messages still buffered in in without blocking, in arrival
// order. It is used on shutdown once Run has returned.
func (d *Dispatcher) Pending(in <-chan *types.MQTTMessage) []types.MeasurementPoint {
	var points []types.MeasurementPoint
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return points
			}
			if point, ok := d.decode(msg); ok {
				points = append(points, point)
			}
		default:
			return points
		}
	}
}

func (d *Dispatcher) decode(msg *types.MQTTMessage) (types.MeasurementPoint, bool) {
	d.metrics.IncReceived()

	point, err := d.decoder.Decode(msg.Topic, msg.Payload)
	if err != nil {
		d.metrics.IncMalformed()
		d.logger.Warn("Skipping malformed message",
			zap.String("topic", msg.Topic),
			zap.ByteString("payload", msg.Payload),
			zap.Error(err))
		return types.MeasurementPoint{}, false
	}

	d.logger.Debug("Decoded reading",
		zap.String("series", point.SeriesKey),
		zap.String("field", point.Field),
		zap.Float64("value", point.Value),
		zap.Int64("timestamp", point.Timestamp))
	return point, true
}
