// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	service "github.com/okian/livetables/internal/app"
	"github.com/okian/livetables/internal/domain/model"
)

// DefaultHistoryLimit bounds the history returned per table unless the
// request asks for fewer.
const DefaultHistoryLimit = 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	TablesDependencies
	StatusDependencies
	RefreshDependencies
	ActivityDependencies
	StatsProvider
}

// Server wires HTTP routes for the consumer API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	tablesHandler   *TablesHandler
	statusHandler   *StatusHandler
	refreshHandler  *RefreshHandler
	activityHandler *ActivityHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, historyLimit int) *Server {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(deps),
		tablesHandler:   NewTablesHandler(deps, historyLimit),
		statusHandler:   NewStatusHandler(deps),
		refreshHandler:  NewRefreshHandler(deps),
		activityHandler: NewActivityHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /status", MetricsMiddleware(s.statusHandler.HandleStatus, "status"))
	mux.HandleFunc("GET /tables", MetricsMiddleware(s.tablesHandler.HandleList, "tables"))
	mux.HandleFunc("GET /tables/{id}", MetricsMiddleware(s.tablesHandler.HandleGet, "table"))
	mux.HandleFunc("POST /refresh", MetricsMiddleware(s.refreshHandler.HandleRefresh, "refresh"))
	mux.HandleFunc("POST /activity", MetricsMiddleware(s.activityHandler.HandleActivity, "activity"))
}

// StatusDependencies defines the interface for sync health.
type StatusDependencies interface {
	GetStatus() model.Status
}

// StatusHandler handles status requests.
type StatusHandler struct {
	deps StatusDependencies
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(deps StatusDependencies) *StatusHandler {
	return &StatusHandler{deps: deps}
}

// HandleStatus handles GET /status requests.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.GetStatus())
}

// RefreshDependencies defines the interface for forced refreshes.
type RefreshDependencies interface {
	ForceRefresh(ctx context.Context) service.RefreshResult
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
