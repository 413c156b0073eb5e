package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energybridge/pkg/types"
)

func TestDevicePrefix(t *testing.T) {
	tests := []struct {
		hostname string
		expected string
	}{
		{"energybridge2-2c1999d4e6b58379.local", "energybridge2-2c1999d4e6b58379"},
		{"bridge.home.lan", "bridge"},
		{"bridge", "bridge"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			assert.Equal(t, tt.expected, DevicePrefix(tt.hostname))
		})
	}
}

func TestSeriesKey(t *testing.T) {
	d := NewDecoder("eb.local")

	assert.Equal(t, "eb.event.metering.summation.minute", d.SeriesKey("event/metering/summation/minute"))
	assert.Equal(t, "eb.zigbee", d.SeriesKey("zigbee"))
	assert.Equal(t, "eb..leading", d.SeriesKey("/leading"))
}

func TestSelectField(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{"instantaneous demand", "eb.event.metering.instantaneous_demand", types.FieldDemand},
		{"demand in middle segment", "eb.demandside.summation", types.FieldDemand},
		{"demand in device prefix", "demandbridge.event.summation", types.FieldDemand},
		{"summation", "eb.event.metering.summation.minute", types.FieldValue},
		{"case sensitive", "eb.event.Demand", types.FieldValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SelectField(tt.key))
		})
	}
}

func TestDecode(t *testing.T) {
	d := NewDecoder("energybridge2-abc.local")

	tests := []struct {
		name    string
		topic   string
		payload string
		want    types.MeasurementPoint
	}{
		{
			name:    "demand reading",
			topic:   "event/metering/instantaneous_demand",
			payload: `{"time": 1700000000, "type": "minute", "demand": 1.234, "value": 99}`,
			want: types.MeasurementPoint{
				SeriesKey: "energybridge2-abc.event.metering.instantaneous_demand",
				Field:     types.FieldDemand,
				Value:     1.234,
				Timestamp: 1700000000,
				Type:      "minute",
			},
		},
		{
			name:    "value reading",
			topic:   "event/metering/summation/minute",
			payload: `{"time": 1700000060, "value": 0.042, "demand": 7}`,
			want: types.MeasurementPoint{
				SeriesKey: "energybridge2-abc.event.metering.summation.minute",
				Field:     types.FieldValue,
				Value:     0.042,
				Timestamp: 1700000060,
			},
		},
		{
			name:    "missing selected field defaults to zero",
			topic:   "event/metering/instantaneous_demand",
			payload: `{"time": 1700000000, "value": 5}`,
			want: types.MeasurementPoint{
				SeriesKey: "energybridge2-abc.event.metering.instantaneous_demand",
				Field:     types.FieldDemand,
				Value:     0,
				Timestamp: 1700000000,
			},
		},
		{
			name:    "null field defaults to zero",
			topic:   "event/metering/summation",
			payload: `{"time": 1700000000, "value": null}`,
			want: types.MeasurementPoint{
				SeriesKey: "energybridge2-abc.event.metering.summation",
				Field:     types.FieldValue,
				Timestamp: 1700000000,
			},
		},
		{
			name:    "millisecond timestamp kept verbatim",
			topic:   "event/metering/summation",
			payload: `{"time": 1700000000123, "value": 1}`,
			want: types.MeasurementPoint{
				SeriesKey: "energybridge2-abc.event.metering.summation",
				Field:     types.FieldValue,
				Value:     1,
				Timestamp: 1700000000123,
			},
		},
		{
			name:    "integral float timestamp",
			topic:   "a",
			payload: `{"time": 1.7e9, "value": 1}`,
			want: types.MeasurementPoint{
				SeriesKey: "energybridge2-abc.a",
				Field:     types.FieldValue,
				Value:     1,
				Timestamp: 1700000000,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Decode(tt.topic, []byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	d := NewDecoder("eb.local")

	payloads := map[string]string{
		"not json":        `not json`,
		"truncated":       `{"time": 1700000000`,
		"array":           `[1,2,3]`,
		"null":            `null`,
		"missing time":    `{"value": 1}`,
		"string time":     `{"time": "yesterday", "value": 1}`,
		"fractional time": `{"time": 1700000000.5, "value": 1}`,
		"string value":    `{"time": 1700000000, "value": "12"}`,
		"empty":           ``,
		"object value":    `{"time": 1700000000, "value": {"v": 1}}`,
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			_, err := d.Decode("event/metering/summation", []byte(payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestLineRendering(t *testing.T) {
	d := NewDecoder("eb.local")

	point, err := d.Decode("event/metering/instantaneous_demand", []byte(`{"time": 1700000000, "demand": 1.236}`))
	require.NoError(t, err)

	assert.Equal(t, "eb.event.metering.instantaneous_demand demand=1.24 1700000000\n", point.Line())
}
