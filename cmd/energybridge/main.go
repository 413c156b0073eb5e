package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"energybridge/internal/bridge"
	"energybridge/internal/config"
	"energybridge/internal/influx"
	"energybridge/internal/ingest"
	"energybridge/internal/kafka"
	"energybridge/internal/logging"
	"energybridge/internal/metrics"
	"energybridge/internal/mqtt"
	"energybridge/pkg/types"
)

const version = "0.1.0"

func main() {
	fmt.Println("Energy Bridge MQTT-InfluxDB Bridge")
	fmt.Println("Version: " + version)

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		os.Exit(0)
	}

	// Test mode to verify MQTT connectivity and payload decoding
	if len(os.Args) > 1 && os.Args[1] == "--test-mqtt" {
		testMQTTConnectivity()
		return
	}

	// Test mode to verify InfluxDB connectivity
	if len(os.Args) > 1 && os.Args[1] == "--test-influx" {
		testInfluxConnectivity()
		return
	}

	// Test mode to verify the Kafka dead letter topic
	if len(os.Args) > 1 && os.Args[1] == "--test-kafka" {
		testKafkaConnectivity()
		return
	}

	configPath := config.GetConfigPath()
	bridgeConfig, err := config.LoadFromFile(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", configPath, err)
	}

	logger, err := logging.New(bridgeConfig.Bridge.Logging.Level, bridgeConfig.Bridge.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("path", configPath),
		zap.String("device", bridgeConfig.Device.Hostname),
		zap.String("mqtt", fmt.Sprintf("%s:%d", bridgeConfig.MQTT.Broker.Host, bridgeConfig.MQTT.Broker.Port)),
		zap.String("influx", config.Redacted(bridgeConfig.Influx.URL)),
		zap.String("precision", bridgeConfig.Influx.Precision))
	if warning := config.PrecisionWarning(bridgeConfig); warning != "" {
		logger.Warn(warning)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridgeInstance, err := bridge.NewEnergyBridge(bridgeConfig, logger, metrics.New())
	if err != nil {
		logger.Fatal("Failed to initialize bridge", zap.Error(err))
	}

	if err := bridgeInstance.Start(ctx); err != nil {
		logger.Fatal("Failed to start bridge", zap.Error(err))
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	if err := bridgeInstance.Stop(); err != nil {
		logger.Error("Error stopping bridge", zap.Error(err))
	}

	logger.Info("Bridge stopped")
}

func loadTestConfig() (*types.Config, *zap.Logger) {
	// Validated as usual, but TLS store paths are not checked
	configPath := config.GetConfigPath()
	cfg, err := config.LoadForTesting(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Bridge.Logging.Level, cfg.Bridge.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return cfg, logger
}

func testMQTTConnectivity() {
	cfg, logger := loadTestConfig()
	logger.Info("Testing MQTT connectivity...",
		zap.String("host", cfg.MQTT.Broker.Host),
		zap.Int("port", cfg.MQTT.Broker.Port),
		zap.Bool("tls", cfg.MQTT.Broker.UseTLS),
		zap.String("username", cfg.MQTT.Auth.Username))

	const maxMessages = 3
	decoder := ingest.NewDecoder(cfg.Device.Hostname)
	received := make(chan *types.MQTTMessage, maxMessages)

	client := mqtt.NewClient(&cfg.MQTT, logger, nil)
	client.SetMessageHandler(func(msg *types.MQTTMessage) {
		select {
		case received <- msg:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		logger.Fatal("Failed to connect to MQTT", zap.Error(err))
	}
	defer client.Disconnect()

	if err := client.Subscribe(ctx); err != nil {
		logger.Fatal("Failed to subscribe", zap.Error(err))
	}

	logger.Info("Connected! Waiting for messages (30 second timeout)...", zap.Int("count", maxMessages))

	for count := 1; count <= maxMessages; count++ {
		select {
		case <-ctx.Done():
			logger.Warn("Timeout reached", zap.Int("received", count-1))
			return
		case msg := <-received:
			fmt.Printf("Message %d:\n", count)
			fmt.Printf("  Topic: %s\n", msg.Topic)
			fmt.Printf("  Payload: %s\n", string(msg.Payload))
			point, err := decoder.Decode(msg.Topic, msg.Payload)
			if err != nil {
				fmt.Printf("  Decode error: %v\n", err)
			} else {
				fmt.Printf("  Line: %s", point.Line())
			}
			fmt.Println("---")
		}
	}
}

func testInfluxConnectivity() {
	cfg, logger := loadTestConfig()
	logger.Info("Testing InfluxDB connectivity...",
		zap.String("url", config.Redacted(cfg.Influx.URL)),
		zap.String("precision", cfg.Influx.Precision))
	if warning := config.PrecisionWarning(cfg); warning != "" {
		logger.Warn(warning)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sink := influx.NewSink(&cfg.Influx, logger)
	if err := sink.Connect(ctx); err != nil {
		logger.Fatal("Failed to connect to InfluxDB", zap.Error(err))
	}
	defer sink.Close()

	sample := types.MeasurementPoint{
		SeriesKey: ingest.NewDecoder(cfg.Device.Hostname).SeriesKey("event/metering/summation/minute"),
		Field:     types.FieldValue,
		Timestamp: time.Now().Unix(),
	}
	logger.Info("✓ InfluxDB reachable")
	fmt.Printf("Sample line: %s", sample.Line())
}

func testKafkaConnectivity() {
	cfg, logger := loadTestConfig()
	logger.Info("Testing Kafka connectivity...",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("protocol", cfg.Kafka.Security.Protocol))

	topic := cfg.Bridge.DeadLetter.KafkaTopic
	if topic == "" {
		logger.Fatal("bridge.dead_letter.kafka_topic is not configured")
	}

	producer := kafka.NewProducer(&cfg.Kafka, logger)
	if err := producer.Connect(); err != nil {
		logger.Fatal("Failed to connect to Kafka", zap.Error(err))
	}
	defer producer.Close()

	payload := fmt.Sprintf(`{"test":"dead-letter","timestamp":%q}`, time.Now().Format(time.RFC3339))
	msg := &types.KafkaMessage{
		Key:   "energybridge-test",
		Value: []byte(payload),
		Topic: topic,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := producer.WriteMessage(ctx, msg); err != nil {
		logger.Fatal("Failed to send test message", zap.Error(err))
	}
	logger.Info("✓ Successfully sent test message to Kafka", zap.String("topic", topic))
}
