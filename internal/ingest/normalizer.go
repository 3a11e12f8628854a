package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"weatherhub/internal/mqtt"
	"weatherhub/internal/store"
)

// Normalization failure reasons.
const (
	ReasonMalformedPayload = "malformed_payload"
	ReasonMissingStationID = "missing_station_id"
	ReasonNoMetrics        = "no_metrics"
)

// NormalizeError describes why a message was rejected. Rejected messages
// are logged and dropped; they never propagate to the transport layer.
type NormalizeError struct {
	Reason string
	Err    error
}

func (e *NormalizeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize: %s: %v", e.Reason, e.Err)
	}
	return "normalize: " + e.Reason
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// Payload is the wire format stations publish. All metric fields are
// optional; a station may report temperature, humidity, or both, each
// tagged with the sensor instance that produced it.
type Payload struct {
	StationID           string    `json:"station_id,omitempty"`
	Timestamp           time.Time `json:"timestamp,omitzero"`
	Temperature         *float64  `json:"temperature_c,omitempty"`
	TemperatureSensorID string    `json:"temperature_sensor_id,omitempty"`
	Humidity            *float64  `json:"humidity_pct,omitempty"`
	HumiditySensorID    string    `json:"humidity_sensor_id,omitempty"`
}

// Normalize parses one raw message into a canonical reading.
//
// The station id from the topic (weather/readings/<id>) takes precedence
// over the payload field. A missing timestamp defaults to receivedAt,
// the wall-clock read taken once when the message arrived. Sensor ids
// are kept only alongside a present metric value.
func Normalize(topic string, payload []byte, receivedAt time.Time) (store.Reading, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return store.Reading{}, &NormalizeError{Reason: ReasonMalformedPayload, Err: err}
	}

	stationID := mqtt.StationFromTopic(topic)
	if stationID == "" {
		stationID = p.StationID
	}
	if stationID == "" {
		return store.Reading{}, &NormalizeError{Reason: ReasonMissingStationID}
	}

	if p.Temperature == nil && p.Humidity == nil {
		return store.Reading{}, &NormalizeError{Reason: ReasonNoMetrics}
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = receivedAt
	}

	r := store.Reading{
		StationID: stationID,
		Timestamp: ts.UTC(),
	}
	if p.Temperature != nil {
		r.Temperature = p.Temperature
		if p.TemperatureSensorID != "" {
			id := p.TemperatureSensorID
			r.TemperatureSensorID = &id
		}
	}
	if p.Humidity != nil {
		r.Humidity = p.Humidity
		if p.HumiditySensorID != "" {
			id := p.HumiditySensorID
			r.HumiditySensorID = &id
		}
	}
	return r, nil
}
