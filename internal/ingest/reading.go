// Package ingest decodes Energy Bridge MQTT messages into measurement points.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"energybridge/pkg/types"
)

// ErrMalformedPayload is returned when a message cannot be decoded into a point.
var ErrMalformedPayload = errors.New("malformed payload")

// Decoder turns topic/payload pairs into points for one device.
type Decoder struct {
	prefix string
}

// NewDecoder creates a decoder for the device with the given hostname.
// Only the short name (up to the first dot) is used as the series prefix.
func NewDecoder(deviceHostname string) *Decoder {
	return &Decoder{prefix: DevicePrefix(deviceHostname)}
}

// DevicePrefix returns the hostname without its domain.
func DevicePrefix(hostname string) string {
	if idx := strings.IndexByte(hostname, '.'); idx >= 0 {
		return hostname[:idx]
	}
	return hostname
}

// SeriesKey maps an MQTT topic to the series it is recorded under.
func (d *Decoder) SeriesKey(topic string) string {
	return d.prefix + "." + strings.ReplaceAll(topic, "/", ".")
}

// SelectField picks the payload field for a series. Any key containing "demand",
// in any segment, reads the demand field.
func SelectField(seriesKey string) string {
	if strings.Contains(seriesKey, types.FieldDemand) {
		return types.FieldDemand
	}
	return types.FieldValue
}

// Decode builds a point from one inbound message.
func (d *Decoder) Decode(topic string, payload []byte) (types.MeasurementPoint, error) {
	var body map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return types.MeasurementPoint{}, fmt.Errorf("%w: topic %s: %v", ErrMalformedPayload, topic, err)
	}
	if body == nil {
		return types.MeasurementPoint{}, fmt.Errorf("%w: topic %s: payload is not an object", ErrMalformedPayload, topic)
	}

	ts, err := epoch(body["time"])
	if err != nil {
		return types.MeasurementPoint{}, fmt.Errorf("%w: topic %s: time: %v", ErrMalformedPayload, topic, err)
	}

	key := d.SeriesKey(topic)
	field := SelectField(key)

	value, err := number(body[field])
	if err != nil {
		return types.MeasurementPoint{}, fmt.Errorf("%w: topic %s: %s: %v", ErrMalformedPayload, topic, field, err)
	}

	point := types.MeasurementPoint{
		SeriesKey: key,
		Field:     field,
		Value:     value,
		Timestamp: ts,
	}
	if t, ok := body["type"].(string); ok {
		point.Type = t
	}
	return point, nil
}

// number reads a numeric payload field; absent or null fields read as 0.
func number(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}

// epoch reads the payload timestamp without changing its precision.
func epoch(raw interface{}) (int64, error) {
	n, ok := raw.(json.Number)
	if !ok {
		if raw == nil {
			return 0, errors.New("missing")
		}
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %s", n.String())
	}
	return int64(f), nil
}
