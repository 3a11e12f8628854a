// Command station simulates a measurement station: two sensor instances
// (a ds18b20 reporting temperature and a bme280 reporting temperature and
// humidity) publish readings on a fixed interval with qos 1.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"weatherhub/internal/config"
	"weatherhub/internal/logging"
)

const appName = "station"

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	stationCfg, err := loadStationConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	cfg.MQTTClientID = stationCfg.StationID

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"station_id", stationCfg.StationID,
		"measure_interval", stationCfg.MeasureInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, stationCfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}

type stationConfig struct {
	StationID       string
	MeasureInterval time.Duration
	BaseTemperature float64
	BaseHumidity    float64
}

func loadStationConfig() (stationConfig, error) {
	stationID := strings.TrimSpace(os.Getenv("STATION_ID"))
	if stationID == "" {
		stationID = "station-1"
	}

	intervalStr := strings.TrimSpace(os.Getenv("MEASURE_INTERVAL"))
	if intervalStr == "" {
		intervalStr = "5s"
	}
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return stationConfig{}, fmt.Errorf("invalid MEASURE_INTERVAL %q: %w", intervalStr, err)
	}

	baseTemp, err := floatFromEnv("BASE_TEMPERATURE_C", 21.0)
	if err != nil {
		return stationConfig{}, err
	}
	baseHum, err := floatFromEnv("BASE_HUMIDITY_PCT", 45.0)
	if err != nil {
		return stationConfig{}, err
	}

	return stationConfig{
		StationID:       stationID,
		MeasureInterval: interval,
		BaseTemperature: baseTemp,
		BaseHumidity:    baseHum,
	}, nil
}

func floatFromEnv(key string, def float64) (float64, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}
