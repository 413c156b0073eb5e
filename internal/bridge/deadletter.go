package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"energybridge/pkg/types"
)

// KafkaWriter publishes a message to Kafka.
type KafkaWriter interface {
	WriteMessage(ctx context.Context, msg *types.KafkaMessage) error
}

// MQTTPublisher publishes a message to the MQTT broker.
type MQTTPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DeadLetterQueue publishes points dropped by backlog overflow to the configured
// Kafka and/or MQTT topics. A nil queue only logs.
type DeadLetterQueue struct {
	config        *types.DeadLetterConfig
	kafkaProducer KafkaWriter
	mqttClient    MQTTPublisher
	logger        *zap.Logger
	now           func() time.Time

	dropped atomic.Int64
}

// NewDeadLetterQueue creates a new dead letter queue handler
func NewDeadLetterQueue(config *types.DeadLetterConfig, kafkaProducer KafkaWriter, mqttClient MQTTPublisher, logger *zap.Logger) *DeadLetterQueue {
	if config == nil || !config.Enabled {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeadLetterQueue{
		config:        config,
		kafkaProducer: kafkaProducer,
		mqttClient:    mqttClient,
		logger:        logger.With(zap.String("component", "dead_letter")),
		now:           time.Now,
	}
}

// HandleDropped records a point that will never reach the sink.
func (dlq *DeadLetterQueue) HandleDropped(ctx context.Context, point types.MeasurementPoint, reason string) {
	if dlq == nil {
		return
	}
	dlq.dropped.Add(1)

	payload, err := json.Marshal(NewDeadLetter(point, reason, dlq.now()))
	if err != nil {
		dlq.logger.Error("Error serializing dropped point", zap.Error(err))
		return
	}

	if dlq.config.KafkaTopic != "" && dlq.kafkaProducer != nil {
		msg := &types.KafkaMessage{
			Key:   point.SeriesKey,
			Value: payload,
			Topic: dlq.config.KafkaTopic,
		}
		if err := dlq.kafkaProducer.WriteMessage(ctx, msg); err != nil {
			dlq.logger.Error("Error sending dropped point to Kafka DLQ",
				zap.String("topic", dlq.config.KafkaTopic),
				zap.Error(err))
		} else {
			dlq.logger.Info("✓ Sent dropped point to Kafka DLQ", zap.String("topic", dlq.config.KafkaTopic))
		}
	}

	if dlq.config.MQTTTopic != "" && dlq.mqttClient != nil {
		if err := dlq.mqttClient.Publish(dlq.config.MQTTTopic, payload, 1, false); err != nil {
			dlq.logger.Error("Error sending dropped point to MQTT DLQ",
				zap.String("topic", dlq.config.MQTTTopic),
				zap.Error(err))
		} else {
			dlq.logger.Info("✓ Sent dropped point to MQTT DLQ", zap.String("topic", dlq.config.MQTTTopic))
		}
	}
}

// DroppedCount returns the number of points handed to the queue.
func (dlq *DeadLetterQueue) DroppedCount() int64 {
	if dlq == nil {
		return 0
	}
	return dlq.dropped.Load()
}

// NewDeadLetter builds the published document for a dropped point.
func NewDeadLetter(point types.MeasurementPoint, reason string, at time.Time) types.DeadLetter {
	return types.DeadLetter{
		SeriesKey: point.SeriesKey,
		Field:     point.Field,
		Value:     point.Value,
		Timestamp: point.Timestamp,
		Line:      point.Line(),
		Reason:    reason,
		DroppedAt: at.UTC(),
	}
}

// loggingDropHandler is used when no dead letter topics are configured.
type loggingDropHandler struct {
	logger *zap.Logger
}

func (h loggingDropHandler) HandleDropped(_ context.Context, point types.MeasurementPoint, reason string) {
	h.logger.Warn("Point dropped",
		zap.String("reason", reason),
		zap.String("line", fmt.Sprintf("%q", point.Line())))
}
