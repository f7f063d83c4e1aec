package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/observability-demo-service/internal/client"
	"github.com/kjstillabower/observability-demo-service/internal/generation"
	"github.com/kjstillabower/observability-demo-service/internal/lifecycle"
	"github.com/kjstillabower/observability-demo-service/internal/models"
	"github.com/kjstillabower/observability-demo-service/internal/observability"
	"github.com/kjstillabower/observability-demo-service/internal/service"
	"github.com/kjstillabower/observability-demo-service/internal/validation"
)

// Ping body formats.
const (
	PingFormatText = "text"
	PingFormatJSON = "json"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type JokeTeller interface {
	GetJoke(ctx context.Context, topic string) (string, error)
}

type WeatherReporter interface {
	Get(ctx context.Context, lat, lon float64) (models.WeatherResult, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	ping       Pinger
	jokes      JokeTeller
	weather    WeatherReporter
	pingFormat string
	logger     *zap.Logger
}

// NewHandler returns a new Handler. pingFormat is PingFormatText or PingFormatJSON.
func NewHandler(ping Pinger, jokes JokeTeller, weather WeatherReporter, pingFormat string, logger *zap.Logger) *Handler {
	if pingFormat == "" {
		pingFormat = PingFormatText
	}
	return &Handler{
		ping:       ping,
		jokes:      jokes,
		weather:    weather,
		pingFormat: pingFormat,
		logger:     logger,
	}
}

// GetPing handles GET /ping.
func (h *Handler) GetPing(w http.ResponseWriter, r *http.Request) {
	if err := h.ping.Ping(r.Context()); err != nil {
		h.requestLogger(r).Debug("ping interrupted", zap.Error(err))
	}
	if h.pingFormat == PingFormatJSON {
		writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
		return
	}
	writeText(w, http.StatusOK, "pong")
}

// GetJoke handles GET /joke?topic=.
func (h *Handler) GetJoke(w http.ResponseWriter, r *http.Request) {
	topic, err := validation.ValidateTopic(r.URL.Query().Get("topic"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_TOPIC", err.Error())
		return
	}

	joke, err := h.jokes.GetJoke(r.Context(), topic)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, joke)
}

// GetWeather handles GET /weather?latitude=&longitude=.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := validation.ParseCoordinates(q.Get("latitude"), q.Get("longitude"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}

	result, err := h.weather.Get(r.Context(), lat, lon)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetHealthz handles GET /healthz. The process is live while it can answer.
func (h *Handler) GetHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// GetReadyz handles GET /readyz. Returns 503 once shutdown has begun so load balancers
// stop routing new traffic.
func (h *Handler) GetReadyz(w http.ResponseWriter, r *http.Request) {
	if lifecycle.IsShuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	return observability.LoggerFromContext(r.Context(), h.logger)
}

// serviceError maps a service error to status, code and client-facing message.
func serviceError(err error) (int, string, string) {
	switch {
	case errors.Is(err, service.ErrInvalidCoordinates):
		return http.StatusBadRequest, "INVALID_COORDINATES", err.Error()
	case errors.Is(err, client.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "Upstream lookup timed out"
	case errors.Is(err, client.ErrCircuitOpen),
		errors.Is(err, client.ErrUpstreamFailure),
		errors.Is(err, client.ErrUpstreamDecode):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch upstream data"
	case errors.Is(err, generation.ErrGenerationFailed):
		return http.StatusBadGateway, "GENERATION_FAILED", "Text generation failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "Request timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "REQUEST_CANCELED", "Request canceled"
	default:
		return http.StatusInternalServerError, "INTERNAL", "Internal server error"
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := serviceError(err)
	logger := h.requestLogger(r).With(
		zap.String("code", code),
		zap.String("category", string(client.CategorizeError(err))),
		zap.Error(err))
	switch {
	case status >= http.StatusInternalServerError && code == "INTERNAL":
		logger.Error("request failed")
	case status >= http.StatusInternalServerError:
		logger.Warn("request failed")
	default:
		logger.Debug("request rejected")
	}
	writeError(w, r, status, code, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}
