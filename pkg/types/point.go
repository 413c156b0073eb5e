package types

import (
	"fmt"
	"strings"
	"time"
)

// Payload fields a point can be read from.
const (
	FieldValue  = "value"
	FieldDemand = "demand"
)

// MeasurementPoint is one decoded energy reading. Points are passed by value and never
// modified after Decode returns them.
type MeasurementPoint struct {
	SeriesKey string
	Field     string
	Value     float64
	// Timestamp is the payload's epoch value, kept at whatever precision the device sent.
	Timestamp int64
	// Type is the optional payload "type" attribute; it is not written to the sink.
	Type string
}

// Line renders the point in line protocol: "<series_key> <field>=<value> <timestamp>\n".
func (p MeasurementPoint) Line() string {
	var b strings.Builder
	b.Grow(len(p.SeriesKey) + len(p.Field) + 32)
	b.WriteString(p.SeriesKey)
	b.WriteByte(' ')
	b.WriteString(p.Field)
	b.WriteByte('=')
	fmt.Fprintf(&b, "%.2f", p.Value)
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%d", p.Timestamp)
	b.WriteByte('\n')
	return b.String()
}

// SessionState is the lifecycle state of the inbound MQTT session.
type SessionState int

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectionState is a snapshot of the inbound session health.
type ConnectionState struct {
	State             SessionState `json:"state"`
	Connected         bool         `json:"connected"`
	LastMessageTime   time.Time    `json:"last_message_time"`
	ReconnectAttempts int          `json:"reconnect_attempts"`
}

// CircuitState is a snapshot of the sink circuit breaker.
type CircuitState struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Open                bool      `json:"open"`
	LastFailureTime     time.Time `json:"last_failure_time"`
}

// BridgeStatus is the health summary served on the status endpoint.
type BridgeStatus struct {
	Healthy      bool            `json:"healthy"`
	SinkReady    bool            `json:"sink_ready"`
	MQTT         ConnectionState `json:"mqtt"`
	Circuit      CircuitState    `json:"circuit_breaker"`
	BacklogSize  int             `json:"backlog_size"`
	DeadLettered int64           `json:"dead_lettered"`
}
