package types

import "time"

// MQTTMessage represents an MQTT message with metadata
type MQTTMessage struct {
	Topic     string    `json:"mqtt_topic"`
	Payload   []byte    `json:"payload"`
	QoS       byte      `json:"qos"`
	Retained  bool      `json:"retained"`
	Timestamp time.Time `json:"timestamp"`
}

// KafkaMessage represents a Kafka message
type KafkaMessage struct {
	Key   string
	Value []byte
	Topic string
}

// DeadLetter is the JSON document published for a point the backlog could not keep.
type DeadLetter struct {
	SeriesKey string    `json:"series_key"`
	Field     string    `json:"field"`
	Value     float64   `json:"value"`
	Timestamp int64     `json:"timestamp"`
	Line      string    `json:"line"`
	Reason    string    `json:"reason"`
	DroppedAt time.Time `json:"dropped_at"`
}
