// Package config loads the bridge configuration from YAML with viper, applies defaults for
// every tunable and validates the result. Secrets can be supplied through ENERGYBRIDGE_*
// environment variables instead of the file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"energybridge/pkg/types"
	"energybridge/pkg/validation"
)

const envPrefix = "ENERGYBRIDGE"

// Defaults applied when a value is left unset.
const (
	DefaultMQTTPort             = 1883
	DefaultClientID             = "energybridge-{random}"
	DefaultKeepAlive            = 10 * time.Second
	DefaultConnectTimeout       = 30 * time.Second
	DefaultInfluxTimeout        = 10 * time.Second
	DefaultQueueSize            = 100
	DefaultMaxRetries           = 3
	DefaultInitialDelay         = time.Second
	DefaultMaxDelay             = 30 * time.Second
	DefaultMultiplier           = 2.0
	DefaultBreakerThreshold     = 5
	DefaultBreakerCooldown      = 60 * time.Second
	DefaultPollInterval         = 5 * time.Second
	DefaultSinkCheckInterval    = 30 * time.Second
	DefaultBusCheckInterval     = 30 * time.Second
	DefaultMessageTimeout       = 300 * time.Second
	DefaultReconnectDelay       = 10 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultBacklogCapacity      = 100000
	DefaultOverflowPolicy       = "drop-oldest"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "console"
)

// secretKeys may be overridden from the environment, e.g. ENERGYBRIDGE_INFLUX_PASSWORD.
var secretKeys = []string{
	"mqtt.auth.username",
	"mqtt.auth.password",
	"influx.username",
	"influx.password",
	"influx.token",
	"kafka.security.ssl.truststore.password",
	"kafka.security.ssl.keystore.password",
	"kafka.security.ssl.keystore.key_password",
}

// LoadFromFile reads configuration from a YAML file with full validation and default application.
func LoadFromFile(configPath string) (*types.Config, error) {
	return load(configPath, false)
}

// LoadForTesting loads config for the connectivity checks; TLS store paths are not checked.
func LoadForTesting(configPath string) (*types.Config, error) {
	return load(configPath, true)
}

func load(configPath string, testMode bool) (*types.Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	if err := validation.ValidateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	config := &types.Config{}
	sections := []struct {
		key    string
		target interface{}
	}{
		{"device", &config.Device},
		{"mqtt", &config.MQTT},
		{"influx", &config.Influx},
		{"kafka", &config.Kafka},
		{"bridge", &config.Bridge},
	}
	for _, s := range sections {
		if err := v.UnmarshalKey(s.key, s.target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s config: %w", s.key, err)
		}
	}

	applyEnvOverrides(v, config)
	applyDefaults(v, config)

	if err := validate(config, testMode); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ValidateConfig exposes the validation function for testing
func ValidateConfig(config *types.Config, testMode bool) error {
	return validate(config, testMode)
}

// GetConfigPath returns the configuration file path from environment or default
func GetConfigPath() string {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return configPath
	}

	if configDir := os.Getenv("CONFIGS_DIR"); configDir != "" {
		return configDir + "/config.yaml"
	}

	return "./configs/config.yaml"
}

// applyEnvOverrides copies bound environment values over the unmarshalled sections;
// UnmarshalKey on a parent key does not see them.
func applyEnvOverrides(v *viper.Viper, config *types.Config) {
	targets := map[string]*string{
		"mqtt.auth.username":                       &config.MQTT.Auth.Username,
		"mqtt.auth.password":                       &config.MQTT.Auth.Password,
		"influx.username":                          &config.Influx.Username,
		"influx.password":                          &config.Influx.Password,
		"influx.token":                             &config.Influx.Token,
		"kafka.security.ssl.truststore.password":   &config.Kafka.Security.SSL.Truststore.Password,
		"kafka.security.ssl.keystore.password":     &config.Kafka.Security.SSL.Keystore.Password,
		"kafka.security.ssl.keystore.key_password": &config.Kafka.Security.SSL.Keystore.KeyPassword,
	}
	for _, key := range secretKeys {
		if v.IsSet(key) {
			*targets[key] = v.GetString(key)
		}
	}
}

// applyDefaults sets default values for configuration fields
func applyDefaults(v *viper.Viper, config *types.Config) {
	if config.MQTT.Broker.Port == 0 {
		config.MQTT.Broker.Port = DefaultMQTTPort
	}
	if config.MQTT.Client.ClientID == "" {
		config.MQTT.Client.ClientID = DefaultClientID
	}
	if config.MQTT.Client.KeepAlive == 0 {
		config.MQTT.Client.KeepAlive = DefaultKeepAlive
	}
	if config.MQTT.Client.ConnectTimeout == 0 {
		config.MQTT.Client.ConnectTimeout = DefaultConnectTimeout
	}
	// QoS defaults to 0 and clean_session to false (no explicit setting needed)

	if config.Influx.Timeout == 0 {
		config.Influx.Timeout = DefaultInfluxTimeout
	}

	b := &config.Bridge
	if b.QueueSize == 0 {
		b.QueueSize = DefaultQueueSize
	}
	if !v.IsSet("bridge.retry.max_retries") {
		b.Retry.MaxRetries = DefaultMaxRetries
	}
	if b.Retry.InitialDelay == 0 {
		b.Retry.InitialDelay = DefaultInitialDelay
	}
	if b.Retry.MaxDelay == 0 {
		b.Retry.MaxDelay = DefaultMaxDelay
	}
	if b.Retry.Multiplier == 0 {
		b.Retry.Multiplier = DefaultMultiplier
	}
	if b.CircuitBreaker.Threshold == 0 {
		b.CircuitBreaker.Threshold = DefaultBreakerThreshold
	}
	if b.CircuitBreaker.Cooldown == 0 {
		b.CircuitBreaker.Cooldown = DefaultBreakerCooldown
	}

	h := &b.Health
	if h.PollInterval == 0 {
		h.PollInterval = DefaultPollInterval
	}
	if h.SinkCheckInterval == 0 {
		h.SinkCheckInterval = DefaultSinkCheckInterval
	}
	if h.BusCheckInterval == 0 {
		h.BusCheckInterval = DefaultBusCheckInterval
	}
	if h.MessageTimeout == 0 {
		h.MessageTimeout = DefaultMessageTimeout
	}
	if h.ReconnectDelay == 0 {
		h.ReconnectDelay = DefaultReconnectDelay
	}
	if h.MaxReconnectAttempts == 0 {
		h.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	// capacity 0 is a valid explicit choice (unbounded)
	if !v.IsSet("bridge.backlog.capacity") {
		b.Backlog.Capacity = DefaultBacklogCapacity
	}
	if b.Backlog.OverflowPolicy == "" {
		b.Backlog.OverflowPolicy = DefaultOverflowPolicy
	}

	if b.Logging.Level == "" {
		b.Logging.Level = DefaultLogLevel
	}
	if b.Logging.Format == "" {
		b.Logging.Format = DefaultLogFormat
	}
}

// validate checks configuration for required fields and logical consistency
func validate(config *types.Config, testMode bool) error {
	config.Device.Hostname = validation.SanitizeConfigString(config.Device.Hostname, 253)
	if config.Device.Hostname == "" {
		return fmt.Errorf("device hostname is required")
	}
	if err := validation.ValidateHostname(config.Device.Hostname); err != nil {
		return fmt.Errorf("invalid device hostname: %w", err)
	}

	if err := validation.ValidateMQTTBroker(config.MQTT.Broker.Host, config.MQTT.Broker.Port); err != nil {
		return fmt.Errorf("invalid MQTT broker configuration: %w", err)
	}
	if len(config.MQTT.Topics.Subscribe) == 0 {
		return fmt.Errorf("at least one MQTT subscribe topic is required")
	}
	for _, topic := range config.MQTT.Topics.Subscribe {
		if err := validation.ValidateTopicFilter(topic); err != nil {
			return fmt.Errorf("invalid MQTT topic %q: %w", topic, err)
		}
	}
	if config.MQTT.Client.QoS > 2 {
		return fmt.Errorf("MQTT QoS must be 0, 1 or 2, got %d", config.MQTT.Client.QoS)
	}

	if err := validation.ValidateURL(config.Influx.URL); err != nil {
		return fmt.Errorf("invalid influx url: %w", err)
	}
	switch config.Influx.Precision {
	case "s", "ms":
	case "":
		return fmt.Errorf("influx precision is required (\"s\" or \"ms\")")
	default:
		return fmt.Errorf("influx precision must be \"s\" or \"ms\", got %q", config.Influx.Precision)
	}
	if config.Influx.Database == "" && config.Influx.Bucket == "" {
		return fmt.Errorf("influx database or bucket is required")
	}

	b := config.Bridge
	for _, d := range []durationSetting{
		{key: "mqtt.client.keepalive", value: config.MQTT.Client.KeepAlive},
		{key: "mqtt.client.connect_timeout", value: config.MQTT.Client.ConnectTimeout},
		{key: "influx.timeout", value: config.Influx.Timeout},
		{key: "bridge.retry.initial_delay", value: b.Retry.InitialDelay},
		{key: "bridge.retry.max_delay", value: b.Retry.MaxDelay},
		{key: "bridge.circuit_breaker.cooldown", value: b.CircuitBreaker.Cooldown},
		{key: "bridge.health.poll_interval", value: b.Health.PollInterval},
		{key: "bridge.health.sink_check_interval", value: b.Health.SinkCheckInterval},
		{key: "bridge.health.bus_check_interval", value: b.Health.BusCheckInterval},
		{key: "bridge.health.message_timeout", value: b.Health.MessageTimeout},
		{key: "bridge.health.reconnect_delay", value: b.Health.ReconnectDelay},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.value)
		}
	}
	if b.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	if b.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1, got %v", b.Retry.Multiplier)
	}
	if b.Retry.MaxDelay < b.Retry.InitialDelay {
		return fmt.Errorf("retry max_delay (%s) is shorter than initial_delay (%s)", b.Retry.MaxDelay, b.Retry.InitialDelay)
	}
	if b.CircuitBreaker.Threshold < 1 {
		return fmt.Errorf("circuit breaker threshold must be at least 1")
	}
	if b.Backlog.Capacity < 0 {
		return fmt.Errorf("backlog capacity must not be negative")
	}
	switch b.Backlog.OverflowPolicy {
	case "drop-oldest", "reject-new":
	default:
		return fmt.Errorf("backlog overflow_policy must be \"drop-oldest\" or \"reject-new\", got %q", b.Backlog.OverflowPolicy)
	}
	if b.Backlog.DrainRate < 0 {
		return fmt.Errorf("backlog drain_rate must not be negative")
	}
	if b.Backlog.PersistPath != "" {
		if err := validation.ValidateWritablePath(b.Backlog.PersistPath); err != nil {
			return fmt.Errorf("invalid backlog persist_path: %w", err)
		}
	}

	if b.DeadLetter.Enabled && b.DeadLetter.KafkaTopic != "" {
		if err := validateKafka(config, testMode); err != nil {
			return err
		}
	}
	if b.DeadLetter.MQTTTopic != "" {
		if err := validation.ValidateTopicName(b.DeadLetter.MQTTTopic); err != nil {
			return fmt.Errorf("invalid dead letter MQTT topic: %w", err)
		}
	}

	if b.Status.Listen != "" {
		if err := validation.ValidateListenAddress(b.Status.Listen); err != nil {
			return fmt.Errorf("invalid status listen address: %w", err)
		}
	}

	// Sanitize and validate authentication credentials
	if config.MQTT.Auth.Username != "" {
		config.MQTT.Auth.Username = validation.SanitizeUsername(config.MQTT.Auth.Username)
	}
	if config.MQTT.Auth.Password != "" {
		config.MQTT.Auth.Password = validation.SanitizePassword(config.MQTT.Auth.Password)
	}

	// Sanitize the client ID, keeping any {random} placeholder intact
	if config.MQTT.Client.ClientID != "" {
		base := config.MQTT.Client.ClientID
		if idx := strings.Index(base, "{"); idx > 0 {
			base = base[:idx]
		}
		sanitized := validation.SanitizeClientID(strings.TrimSuffix(base, "-"))
		if strings.Contains(config.MQTT.Client.ClientID, "{random}") {
			config.MQTT.Client.ClientID = sanitized + "-{random}"
		} else {
			config.MQTT.Client.ClientID = sanitized
		}
	}

	return nil
}

type durationSetting struct {
	key   string
	value time.Duration
}

func validateKafka(config *types.Config, testMode bool) error {
	if len(config.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required for the dead letter topic")
	}
	for _, broker := range config.Kafka.Brokers {
		if err := validation.ValidateBrokerAddress(broker); err != nil {
			return fmt.Errorf("invalid Kafka broker address %s: %w", broker, err)
		}
	}

	// SSL store paths are checked in production mode only
	if strings.ToUpper(config.Kafka.Security.Protocol) == "SSL" && !testMode {
		allowedDirs := []string{"/etc/ssl", "/opt/kafka/ssl", "./ssl", "./certs", "./config/ssl"}
		if homeDir, err := os.UserHomeDir(); err == nil {
			allowedDirs = append(allowedDirs, homeDir+"/.kafka/ssl", homeDir+"/.ssl")
		}

		ssl := config.Kafka.Security.SSL
		if ssl.Keystore.Location != "" {
			if err := validation.ValidateSSLFilePath(ssl.Keystore.Location, allowedDirs); err != nil {
				return fmt.Errorf("invalid keystore path: %w", err)
			}
		}
		if ssl.Truststore.Location != "" {
			if err := validation.ValidateSSLFilePath(ssl.Truststore.Location, allowedDirs); err != nil {
				return fmt.Errorf("invalid truststore path: %w", err)
			}
		}
	}
	return nil
}

// PrecisionWarning describes the seconds/milliseconds mismatch when the sink is told
// to expect milliseconds; device timestamps are epoch seconds and are written unchanged.
func PrecisionWarning(config *types.Config) string {
	if config.Influx.Precision != "ms" {
		return ""
	}
	return "influx precision is \"ms\" but readings carry epoch seconds; timestamps are written unchanged"
}

// Redacted returns the influx URL without credentials, for logging.
func Redacted(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Redacted()
}
