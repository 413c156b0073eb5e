//go:build integration

package mqtt

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"energybridge/pkg/types"
)

func TestBrokerConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	client := NewClient(brokerTestConfig(), zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect()

	assert.True(t, client.State().Connected)
}

func TestBrokerSubscribePublish(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	config := brokerTestConfig()
	config.Topics.Subscribe = []string{"energybridge/test/#"}
	client := NewClient(config, zaptest.NewLogger(t), nil)

	var mu sync.Mutex
	var received []*types.MQTTMessage
	client.SetMessageHandler(func(msg *types.MQTTMessage) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect()
	require.NoError(t, client.Subscribe(ctx))

	// give the broker a moment to register the subscription
	time.Sleep(100 * time.Millisecond)

	topic := "energybridge/test/event/metering/summation/minute"
	payload := []byte(`{"time":1700000000,"value":1.5}`)
	require.NoError(t, client.Publish(topic, payload, 0, false))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 5*time.Second, 100*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, topic, received[0].Topic)
	assert.Equal(t, payload, received[0].Payload)
}

func TestBrokerReconnect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	client := NewClient(brokerTestConfig(), zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect()

	require.NoError(t, client.Reconnect(ctx))
	state := client.State()
	assert.True(t, state.Connected)
	assert.Equal(t, 0, state.ReconnectAttempts)
}

func TestBrokerTLSConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("MQTT_TLS_HOST") == "" {
		t.Skip("No TLS MQTT broker configured (set MQTT_TLS_HOST)")
	}

	config := brokerTestConfig()
	config.Broker.Host = getEnv("MQTT_TLS_HOST", "localhost")
	config.Broker.Port = getEnvInt("MQTT_TLS_PORT", 8883)
	config.Broker.UseTLS = true
	config.Broker.UseOSCerts = true
	config.Auth.Username = getEnv("MQTT_TLS_USERNAME", "")
	config.Auth.Password = getEnv("MQTT_TLS_PASSWORD", "")

	client := NewClient(config, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	client.Disconnect()
}

func brokerTestConfig() *types.MQTTConfig {
	config := &types.MQTTConfig{}
	config.Broker.Host = getEnv("MQTT_HOST", "localhost")
	config.Broker.Port = getEnvInt("MQTT_PORT", 1883)
	config.Broker.UseTLS = getEnvBool("MQTT_TLS", false)
	config.Broker.UseOSCerts = getEnvBool("MQTT_USE_OS_CERTS", false)
	config.Auth.Username = getEnv("MQTT_USERNAME", "")
	config.Auth.Password = getEnv("MQTT_PASSWORD", "")
	config.Client.ClientID = "energybridge-test-{random}"
	config.Client.KeepAlive = 10 * time.Second
	config.Client.ConnectTimeout = 5 * time.Second
	config.Topics.Subscribe = []string{"event/metering/#"}
	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
