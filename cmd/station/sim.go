package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"time"

	"weatherhub/internal/config"
	"weatherhub/internal/ingest"
	"weatherhub/internal/mqtt"
)

func run(ctx context.Context, cfg config.Config, st stationConfig) error {
	publisher := mqtt.NewPublisher(cfg, slog.Default())
	defer publisher.Disconnect()

	if err := publisher.Connect(ctx); err != nil {
		return err
	}

	sim := newSimulator(st)
	ticker := time.NewTicker(st.MeasureInterval)
	defer ticker.Stop()

	topic := mqtt.StationTopic(st.StationID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, p := range sim.measure(time.Now().UTC()) {
				data, err := json.Marshal(p)
				if err != nil {
					slog.Error("marshal reading", "error", err)
					continue
				}
				if err := publisher.Publish(topic, data); err != nil {
					// No retry; the next cycle produces a fresh reading.
					slog.Warn("publish failed", "topic", topic, "error", err)
				}
			}
		}
	}
}

// simulator produces readings from two virtual sensor instances the way
// the real stations do: a ds18b20 probe (temperature only, mounted
// outside, reads a bit warmer) and a bme280 (temperature + humidity).
type simulator struct {
	stationID string
	ds18b20   string
	bme280    string
	baseTemp  float64
	baseHum   float64
	phase     int
}

func newSimulator(st stationConfig) *simulator {
	return &simulator{
		stationID: st.StationID,
		ds18b20:   st.StationID + "-ds18b20",
		bme280:    st.StationID + "-bme280",
		baseTemp:  st.BaseTemperature,
		baseHum:   st.BaseHumidity,
	}
}

func (s *simulator) measure(now time.Time) []ingest.Payload {
	drift := float64(s.phase%20) * 0.05
	s.phase++

	temp := s.baseTemp + drift + rand.Float64()*0.1 - 0.05
	probeTemp := temp + 1.5
	hum := s.baseHum + rand.Float64()*2 - 1

	return []ingest.Payload{
		{
			StationID:           s.stationID,
			Timestamp:           now,
			Temperature:         &probeTemp,
			TemperatureSensorID: s.ds18b20,
		},
		{
			StationID:           s.stationID,
			Timestamp:           now,
			Temperature:         &temp,
			TemperatureSensorID: s.bme280,
			Humidity:            &hum,
			HumiditySensorID:    s.bme280,
		},
	}
}
