package httpapi

import (
	"errors"
	"net/http"

	"weatherhub/internal/query"
	"weatherhub/internal/store"
	"weatherhub/internal/utils"
)

func (c *readingsControllerImpl) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := c.engine.Stations()
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stations == nil {
		stations = []string{}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"stations": stations})
}

func (c *readingsControllerImpl) handleReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	selector := q.Get("range")
	stationID := q.Get("station")
	if stationID == "" {
		stationID = store.StationAll
	}

	readings, err := c.engine.Readings(selector, stationID)
	if err != nil {
		if errors.Is(err, query.ErrUnknownRange) {
			utils.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if readings == nil {
		readings = []store.Reading{}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"readings": readings})
}

// handleAverage reports the unweighted mean per metric over all matching
// rows: a station that reports more often weighs more. Nulls, not zeros,
// when no row in the range carries the metric.
func (c *readingsControllerImpl) handleAverage(w http.ResponseWriter, r *http.Request) {
	selector := r.URL.Query().Get("range")

	avg, err := c.engine.Average(selector)
	if err != nil {
		if errors.Is(err, query.ErrUnknownRange) {
			utils.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"avg_temperature": avg.Temperature,
		"avg_humidity":    avg.Humidity,
		"count":           avg.Count,
	})
}
