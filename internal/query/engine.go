// Package query resolves symbolic range selectors and answers the two
// query shapes the dashboard consumes: range listing and averaging.
package query

import (
	"errors"
	"fmt"
	"time"

	"weatherhub/internal/store"
)

// ErrUnknownRange marks a range selector outside the fixed enumeration.
// The HTTP layer maps it to a client error.
var ErrUnknownRange = errors.New("unknown range selector")

const DefaultRangeKey = "24h"

// RangeAll selects the full history (unbounded start).
const RangeAll = "all"

var rangeDurations = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

// ResolveRange turns a selector into concrete [start, end] bounds anchored
// at now. "all" returns a zero start. An empty selector resolves to the
// default; anything else fails with ErrUnknownRange.
func ResolveRange(selector string, now time.Time) (start, end time.Time, err error) {
	if selector == "" {
		selector = DefaultRangeKey
	}
	if selector == RangeAll {
		return time.Time{}, now, nil
	}
	d, ok := rangeDurations[selector]
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownRange, selector)
	}
	return now.Add(-d), now, nil
}

// Engine answers range and average queries over the reading store.
// It returns flat rows; grouping by station and sensor id is the
// consumer's job.
type Engine struct {
	store store.ReadingStore
	now   func() time.Time
}

func NewEngine(s store.ReadingStore) *Engine {
	return &Engine{store: s, now: func() time.Time { return time.Now().UTC() }}
}

func (e *Engine) Readings(selector, stationID string) ([]store.Reading, error) {
	start, end, err := ResolveRange(selector, e.now())
	if err != nil {
		return nil, err
	}
	return e.store.QueryRange(start, end, stationID)
}

func (e *Engine) Average(selector string) (store.Averages, error) {
	start, end, err := ResolveRange(selector, e.now())
	if err != nil {
		return store.Averages{}, err
	}
	return e.store.QueryAverage(start, end)
}

func (e *Engine) Stations() ([]string, error) {
	return e.store.Stations()
}
