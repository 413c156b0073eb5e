// Package bridge moves Energy Bridge readings from MQTT into the time-series sink.
// It wires the ingest decoder, the delivery pipeline with its retry loop, circuit
// breaker and backlog, the health monitor and the optional dead letter and status
// endpoints into one service.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"energybridge/internal/influx"
	"energybridge/internal/ingest"
	"energybridge/internal/kafka"
	"energybridge/internal/metrics"
	"energybridge/internal/mqtt"
	"energybridge/internal/status"
	"energybridge/internal/store"
	"energybridge/pkg/types"
)

// EnergyBridge owns every component of a running bridge.
type EnergyBridge struct {
	config  *types.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	sink       *influx.Sink
	breaker    *CircuitBreaker
	backlog    *Backlog
	pipeline   *Pipeline
	dispatcher *Dispatcher
	monitor    *HealthMonitor
	mqttClient *mqtt.Client
	producer   *kafka.Producer
	deadLetter *DeadLetterQueue
	snapshot   *store.DB
	status     *status.Server

	messages chan *types.MQTTMessage
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEnergyBridge builds the bridge from a validated configuration. Nothing is
// connected until Start.
func NewEnergyBridge(config *types.Config, logger *zap.Logger, m *metrics.Metrics, opts ...mqtt.Option) (*EnergyBridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	policy, err := ParseOverflowPolicy(config.Bridge.Backlog.OverflowPolicy)
	if err != nil {
		return nil, err
	}

	b := &EnergyBridge{
		config:   config,
		logger:   logger,
		metrics:  m,
		messages: make(chan *types.MQTTMessage, config.Bridge.QueueSize),
	}

	b.sink = influx.NewSink(&config.Influx, logger)
	b.breaker = NewCircuitBreaker(config.Bridge.CircuitBreaker, logger, m)
	b.backlog = NewBacklog(config.Bridge.Backlog.Capacity, policy, logger, m)

	b.mqttClient = mqtt.NewClient(&config.MQTT, logger, m, opts...)
	b.mqttClient.SetMessageHandler(b.handleMessage)

	if config.Bridge.DeadLetter.Enabled && config.Bridge.DeadLetter.KafkaTopic != "" {
		b.producer = kafka.NewProducer(&config.Kafka, logger)
	}
	b.deadLetter = newDeadLetterQueue(&config.Bridge.DeadLetter, b.producer, b.mqttClient, logger)

	var dropped DroppedPointHandler = loggingDropHandler{logger: logger.With(zap.String("component", "backlog"))}
	if b.deadLetter != nil {
		dropped = b.deadLetter
	}

	b.pipeline = NewPipeline(b.sink, b.breaker, b.backlog, config.Bridge.Retry,
		WithLogger(logger),
		WithMetrics(m),
		WithDroppedPointHandler(dropped),
		WithDrainRate(config.Bridge.Backlog.DrainRate))

	b.dispatcher = NewDispatcher(ingest.NewDecoder(config.Device.Hostname), b.pipeline, logger, m)
	b.monitor = NewHealthMonitor(config.Bridge.Health, b.sink, b.mqttClient, b.pipeline, logger, m)

	if config.Bridge.Status.Listen != "" {
		b.status = status.NewServer(config.Bridge.Status.Listen, m.Registry(), b, logger)
	}
	return b, nil
}

// newDeadLetterQueue avoids handing the queue a typed nil producer.
func newDeadLetterQueue(cfg *types.DeadLetterConfig, producer *kafka.Producer, publisher MQTTPublisher, logger *zap.Logger) *DeadLetterQueue {
	if producer == nil {
		return NewDeadLetterQueue(cfg, nil, publisher, logger)
	}
	return NewDeadLetterQueue(cfg, producer, publisher, logger)
}

// Start restores any saved backlog, connects the sink and the MQTT session and starts
// the consumer and health monitor. Unreachable sink or broker are not fatal: the
// health monitor keeps retrying them.
func (b *EnergyBridge) Start(ctx context.Context) error {
	b.runCtx, b.cancel = context.WithCancel(ctx)

	if err := b.restoreBacklog(b.runCtx); err != nil {
		b.cancel()
		return err
	}

	if b.producer != nil {
		if err := b.producer.Connect(); err != nil {
			b.cancel()
			return fmt.Errorf("failed to connect dead letter producer: %w", err)
		}
	}

	if err := b.sink.Connect(b.runCtx); err != nil {
		b.logger.Warn("InfluxDB unavailable at startup, points will be queued", zap.Error(err))
	}

	if err := b.mqttClient.Connect(b.runCtx); err != nil {
		b.logger.Warn("MQTT broker unavailable at startup, health monitor will retry", zap.Error(err))
	} else if err := b.mqttClient.Subscribe(b.runCtx); err != nil {
		b.logger.Warn("MQTT subscribe failed at startup, health monitor will retry", zap.Error(err))
		b.mqttClient.Disconnect()
	}

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.dispatcher.Run(b.runCtx, b.messages)
	}()
	go func() {
		defer b.wg.Done()
		b.monitor.Run(b.runCtx)
	}()

	if b.status != nil {
		if _, err := b.status.Start(); err != nil {
			b.logger.Error("Status server failed to start", zap.Error(err))
		}
	}

	b.logger.Info("🚀 Energy bridge started",
		zap.String("device", b.config.Device.Hostname),
		zap.Strings("topics", b.config.MQTT.Topics.Subscribe),
		zap.Int("backlog", b.backlog.Len()))
	return nil
}

// Stop cancels the consumer and the health monitor, disconnects from MQTT, saves the
// backlog (including messages still waiting for the consumer) when a snapshot path is
// configured and closes the sink.
func (b *EnergyBridge) Stop() error {
	b.logger.Info("Stopping energy bridge...")

	if b.cancel != nil {
		b.cancel()
	}
	b.mqttClient.Disconnect()
	b.wg.Wait()

	if b.snapshot != nil {
		pending := b.dispatcher.Pending(b.messages)
		for _, p := range pending {
			b.pipeline.enqueue(context.Background(), p)
		}
		if len(pending) > 0 {
			b.logger.Info("Queued undelivered messages for the snapshot", zap.Int("points", len(pending)))
		}
	}

	var firstErr error
	if err := b.saveBacklog(); err != nil {
		b.logger.Error("Failed to save backlog snapshot", zap.Error(err))
		firstErr = err
	}

	b.sink.Close()

	if b.producer != nil {
		if err := b.producer.Close(); err != nil {
			b.logger.Error("Error closing dead letter producer", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if b.status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.status.Shutdown(shutdownCtx); err != nil {
			b.logger.Error("Error stopping status server", zap.Error(err))
		}
	}

	b.logger.Info("✓ Energy bridge stopped", zap.Int("backlog", b.backlog.Len()))
	return firstErr
}

// Status reports the current health of the bridge.
func (b *EnergyBridge) Status() types.BridgeStatus {
	session := b.mqttClient.State()
	circuit := b.breaker.State()
	sinkReady := b.sink.Ready()

	return types.BridgeStatus{
		Healthy:      sinkReady && !circuit.Open && BusHealthy(session, time.Now(), b.config.Bridge.Health.MessageTimeout),
		SinkReady:    sinkReady,
		MQTT:         session,
		Circuit:      circuit,
		BacklogSize:  b.backlog.Len(),
		DeadLettered: b.deadLetter.DroppedCount(),
	}
}

// handleMessage runs on the paho callback goroutine and hands the message to the
// single consumer. It blocks while the queue is full.
func (b *EnergyBridge) handleMessage(msg *types.MQTTMessage) {
	ctx := b.runCtx
	if ctx == nil {
		return
	}
	select {
	case b.messages <- msg:
	case <-ctx.Done():
	}
}

func (b *EnergyBridge) restoreBacklog(ctx context.Context) error {
	path := b.config.Bridge.Backlog.PersistPath
	if path == "" {
		return nil
	}

	db, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backlog snapshot: %w", err)
	}
	b.snapshot = db

	points, err := db.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load backlog snapshot: %w", err)
	}
	if len(points) == 0 {
		return nil
	}

	for _, p := range b.backlog.Restore(points) {
		b.pipeline.enqueueDropped(ctx, p)
	}
	if err := db.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear backlog snapshot: %w", err)
	}

	b.logger.Info("Restored backlog snapshot",
		zap.String("path", path),
		zap.Int("points", len(points)),
		zap.Int("queued", b.backlog.Len()))
	return nil
}

func (b *EnergyBridge) saveBacklog() error {
	if b.snapshot == nil {
		return nil
	}
	defer b.snapshot.Close()

	points := b.backlog.Snapshot()
	if err := b.snapshot.Save(context.Background(), points); err != nil {
		return err
	}
	b.logger.Info("Saved backlog snapshot",
		zap.String("path", b.config.Bridge.Backlog.PersistPath),
		zap.Int("points", len(points)))
	return nil
}
