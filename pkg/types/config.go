package types

import "time"

// Config represents the complete bridge configuration
type Config struct {
	Device DeviceConfig `mapstructure:"device"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	Influx InfluxConfig `mapstructure:"influx"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Bridge BridgeConfig `mapstructure:"bridge"`
}

// DeviceConfig identifies the energy monitor whose readings are bridged.
// Hostname is the device's full name; the part before the first dot prefixes every series key.
type DeviceConfig struct {
	Hostname string `mapstructure:"hostname"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker struct {
		Host       string `mapstructure:"host"`
		Port       int    `mapstructure:"port"`
		UseTLS     bool   `mapstructure:"use_tls"`
		UseOSCerts bool   `mapstructure:"use_os_certs"`
	} `mapstructure:"broker"`
	Auth struct {
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
	} `mapstructure:"auth"`
	Client struct {
		ClientID       string        `mapstructure:"client_id"`
		QoS            byte          `mapstructure:"qos"`
		KeepAlive      time.Duration `mapstructure:"keepalive"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
		CleanSession   bool          `mapstructure:"clean_session"`
	} `mapstructure:"client"`
	Topics struct {
		Subscribe []string `mapstructure:"subscribe"`
	} `mapstructure:"topics"`
}

// InfluxConfig holds the time-series sink settings.
// Username/Password/Database address a 1.x server through the 2.x compatibility API;
// Token/Org/Bucket address a 2.x server directly.
type InfluxConfig struct {
	URL             string        `mapstructure:"url"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	RetentionPolicy string        `mapstructure:"retention_policy"`
	Token           string        `mapstructure:"token"`
	Org             string        `mapstructure:"org"`
	Bucket          string        `mapstructure:"bucket"`
	Precision       string        `mapstructure:"precision"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// KafkaConfig holds Kafka connection settings used for the dead-letter topic
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Security struct {
		Protocol string `mapstructure:"protocol"`
		SSL      struct {
			Truststore struct {
				Location string `mapstructure:"location"`
				Password string `mapstructure:"password"`
			} `mapstructure:"truststore"`
			Keystore struct {
				Location    string `mapstructure:"location"`
				Password    string `mapstructure:"password"`
				KeyPassword string `mapstructure:"key_password"`
			} `mapstructure:"keystore"`
		} `mapstructure:"ssl"`
	} `mapstructure:"security"`
}

// RetryConfig controls the delivery retry loop.
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// CircuitBreakerConfig controls when the sink is short-circuited.
type CircuitBreakerConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// HealthConfig controls the connection health monitor.
type HealthConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	SinkCheckInterval    time.Duration `mapstructure:"sink_check_interval"`
	BusCheckInterval     time.Duration `mapstructure:"bus_check_interval"`
	MessageTimeout       time.Duration `mapstructure:"message_timeout"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

// BacklogConfig bounds the undelivered point queue.
type BacklogConfig struct {
	Capacity       int     `mapstructure:"capacity"`
	OverflowPolicy string  `mapstructure:"overflow_policy"`
	DrainRate      float64 `mapstructure:"drain_rate"`
	PersistPath    string  `mapstructure:"persist_path"`
}

// DeadLetterConfig names where points evicted from the backlog are published.
type DeadLetterConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	KafkaTopic string `mapstructure:"kafka_topic"`
	MQTTTopic  string `mapstructure:"mqtt_topic"`
}

// BridgeConfig holds bridge behavior settings
type BridgeConfig struct {
	QueueSize      int                  `mapstructure:"queue_size"`
	Retry          RetryConfig          `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Health         HealthConfig         `mapstructure:"health"`
	Backlog        BacklogConfig        `mapstructure:"backlog"`
	DeadLetter     DeadLetterConfig     `mapstructure:"dead_letter"`
	Logging        struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Status struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"status"`
}
