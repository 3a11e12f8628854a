package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

//go:embed sql/get-average.sql
var getAverageSQL string

//go:embed sql/get-stations.sql
var getStationsSQL string

// StationAll disables the station filter in QueryRange.
const StationAll = "all"

// tsLayout pads fractional seconds to a fixed width. RFC3339Nano drops
// trailing zeros, so "...:00Z" would sort after "...:00.5Z" in SQL TEXT
// comparison ('Z' > '.'); the padded form keeps lexicographic order equal
// to chronological order for both stored values and query bounds.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Reading is one normalized measurement row. Metric values and their
// sensor ids are optional, but at least one metric must be present.
// (station_id, temperature_sensor_id) and (station_id, humidity_sensor_id)
// identify distinct series.
type Reading struct {
	ID                  int64     `json:"-"`
	StationID           string    `json:"station_id"`
	Timestamp           time.Time `json:"timestamp"`
	Temperature         *float64  `json:"temperature_c"`
	TemperatureSensorID *string   `json:"temperature_sensor_id"`
	Humidity            *float64  `json:"humidity_pct"`
	HumiditySensorID    *string   `json:"humidity_sensor_id"`
}

// Averages holds unweighted means over all rows in a range that carry
// the metric. Nil means no row carried the metric.
type Averages struct {
	Temperature *float64
	Humidity    *float64
	Count       int
}

type ReadingStore interface {
	// Append inserts one reading and returns its row id. The store never
	// retries; the caller decides what a failed append means.
	Append(r Reading) (int64, error)
	// QueryRange returns readings with start <= ts <= end, ascending by
	// timestamp, ties broken by insertion order. A zero start means
	// unbounded. stationID "" or "all" disables the station filter.
	QueryRange(start, end time.Time, stationID string) ([]Reading, error)
	QueryAverage(start, end time.Time) (Averages, error)
	// Stations lists distinct station ids seen historically.
	Stations() ([]string, error)
}

type readingStoreImpl struct {
	db *sql.DB
}

func New(db *sql.DB) ReadingStore {
	return &readingStoreImpl{db: db}
}

func (s *readingStoreImpl) Append(r Reading) (int64, error) {
	if r.StationID == "" {
		return 0, fmt.Errorf("append: station_id is required")
	}
	if r.Temperature == nil && r.Humidity == nil {
		return 0, fmt.Errorf("append: reading has no metric values")
	}

	tsStr := r.Timestamp.UTC().Format(tsLayout)
	res, err := s.db.Exec(insertReadingSQL,
		r.StationID,
		tsStr,
		nullableFloat(r.Temperature),
		nullableString(r.TemperatureSensorID),
		nullableFloat(r.Humidity),
		nullableString(r.HumiditySensorID),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert reading id: %w", err)
	}
	return id, nil
}

func (s *readingStoreImpl) QueryRange(start, end time.Time, stationID string) ([]Reading, error) {
	startStr := ""
	if !start.IsZero() {
		startStr = start.UTC().Format(tsLayout)
	}
	endStr := end.UTC().Format(tsLayout)
	if stationID == StationAll {
		stationID = ""
	}

	rows, err := s.db.Query(getReadingsSQL, startStr, endStr, stationID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

func (s *readingStoreImpl) QueryAverage(start, end time.Time) (Averages, error) {
	startStr := ""
	if !start.IsZero() {
		startStr = start.UTC().Format(tsLayout)
	}
	endStr := end.UTC().Format(tsLayout)

	var avgTemp, avgHum sql.NullFloat64
	var count int
	err := s.db.QueryRow(getAverageSQL, startStr, endStr).Scan(&avgTemp, &avgHum, &count)
	if err != nil {
		return Averages{}, err
	}

	out := Averages{Count: count}
	if avgTemp.Valid {
		out.Temperature = &avgTemp.Float64
	}
	if avgHum.Valid {
		out.Humidity = &avgHum.Float64
	}
	return out, nil
}

func (s *readingStoreImpl) Stations() ([]string, error) {
	rows, err := s.db.Query(getStationsSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close stations rows", "error", err)
		}
	}()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanReadings(rows *sql.Rows) ([]Reading, error) {
	var out []Reading
	for rows.Next() {
		var rec Reading
		var ts string
		var temp, hum sql.NullFloat64
		var tempSensor, humSensor sql.NullString
		if err := rows.Scan(&rec.ID, &rec.StationID, &ts, &temp, &tempSensor, &hum, &humSensor); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			var err2 error
			t, err2 = time.Parse(time.RFC3339, ts)
			if err2 != nil {
				return nil, fmt.Errorf("parse timestamp %q: RFC3339Nano: %w; RFC3339: %w", ts, err, err2)
			}
		}
		rec.Timestamp = t
		if temp.Valid {
			rec.Temperature = &temp.Float64
		}
		if tempSensor.Valid {
			rec.TemperatureSensorID = &tempSensor.String
		}
		if hum.Valid {
			rec.Humidity = &hum.Float64
		}
		if humSensor.Valid {
			rec.HumiditySensorID = &humSensor.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
