package httpapi

import (
	"net/http"

	"weatherhub/internal/query"
)

type ReadingsController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type readingsControllerImpl struct {
	engine *query.Engine
}

func NewReadingsController(engine *query.Engine) ReadingsController {
	return &readingsControllerImpl{engine: engine}
}

func (c *readingsControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stations", c.handleStations)
	mux.HandleFunc("GET /api/readings", c.handleReadings)
	mux.HandleFunc("GET /api/average", c.handleAverage)
}

// RegisterAPI wires the query API onto the mux.
func RegisterAPI(mux *http.ServeMux, engine *query.Engine) {
	NewReadingsController(engine).RegisterRoutes(mux)
}
