package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"rule-persistence/internal/service"
	"rule-persistence/internal/util"
)

// TickRunner is implemented by service.TickOrchestrator.
type TickRunner interface {
	Execute(ctx context.Context) (service.TickReport, error)
	LastReport() (service.TickReport, bool)
}

// HealthFunc reports per-dependency failures; an empty map means healthy.
type HealthFunc func(ctx context.Context) map[string]error

// OpsHandler serves the operational endpoints of the job
type OpsHandler struct {
	ticks  TickRunner
	health HealthFunc
	logger *zap.Logger
}

func NewOpsHandler(ticks TickRunner, health HealthFunc, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{
		ticks:  ticks,
		health: health,
		logger: logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers the tick routes
func (h *OpsHandler) RegisterRoutes(router chi.Router) {
	router.Route("/ticks", func(r chi.Router) {
		r.Get("/last", h.LastTick)
		r.Post("/", h.TriggerTick)
	})
}

// HealthCheck reports dependency health. Optional dependencies that are not
// configured do not appear in the map.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	failures := h.health(r.Context())
	if len(failures) == 0 {
		h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
			"status":  "healthy",
			"service": "rule-persistence",
		}, "Service is healthy"))
		return
	}

	details := make(map[string]string, len(failures))
	for name, err := range failures {
		details[name] = err.Error()
	}
	h.logger.Warn("Health check failed", util.Any("failures", details))
	h.respondWithJSON(w, http.StatusServiceUnavailable, Response{
		Success: false,
		Data:    details,
		Error:   "one or more dependencies are unhealthy",
		Message: "Service unhealthy",
	})
}

// LastTick returns the report of the most recent finished tick
func (h *OpsHandler) LastTick(w http.ResponseWriter, r *http.Request) {
	report, ok := h.ticks.LastReport()
	if !ok {
		h.respondWithError(w, http.StatusNotFound, errors.New("no tick has finished yet"), "No tick report available")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(report, "Last tick report"))
}

// TriggerTick runs a tick immediately and returns its report
func (h *OpsHandler) TriggerTick(w http.ResponseWriter, r *http.Request) {
	report, err := h.ticks.Execute(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrTickInProgress) {
			status = http.StatusConflict
		}
		h.respondWithError(w, status, err, "Failed to run tick")
		return
	}

	h.logger.Info("Manual tick completed",
		util.String("tick_id", report.TickID),
		util.Int("failed", report.Failed))
	h.respondWithJSON(w, http.StatusOK, successResponse(report, "Tick completed"))
}

func (h *OpsHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *OpsHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}
