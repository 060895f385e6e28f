package handlers

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"prediction-dashboard/internal/errors"
	"prediction-dashboard/internal/models"
	"prediction-dashboard/internal/observability"
	"prediction-dashboard/internal/services"
	"prediction-dashboard/internal/session"
)

const (
	version = "1.0.0"

	// shutdownRetryAfter is the Retry-After hint sent while the service
	// drains.
	shutdownRetryAfter = 5 * time.Second
)

// PredictionService is the coordinator surface the handlers drive.
type PredictionService interface {
	View() services.View
	RequestRefresh(ctx context.Context) error
	ReloadCache(ctx context.Context) error
	Subscribe() (<-chan services.View, func())
}

type BackendHealthChecker interface {
	Health(ctx context.Context) (*models.BackendHealth, error)
}

type APIHandlers struct {
	predictions PredictionService
	backend     BackendHealthChecker
	session     *session.Session
	logger      *slog.Logger
	startedAt   time.Time
}

func NewAPIHandlers(predictions PredictionService, backend BackendHealthChecker, sess *session.Session, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		predictions: predictions,
		backend:     backend,
		session:     sess,
		logger:      logger,
		startedAt:   time.Now(),
	}
}

type predictionsResponse struct {
	Predictions     []models.CombinedPrediction `json:"predictions"`
	Stats           models.PredictionStats      `json:"stats"`
	TotalCount      int                         `json:"totalCount"`
	LastRefreshedAt string                      `json:"lastRefreshedAt,omitempty"`
	IsRefreshing    bool                        `json:"isRefreshing"`
	IsLoading       bool                        `json:"isLoading"`
	Error           string                      `json:"error,omitempty"`
}

type statusResponse struct {
	IsRefreshing     bool           `json:"isRefreshing"`
	ServerRefreshing bool           `json:"serverRefreshing"`
	IsLoading        bool           `json:"isLoading"`
	Phase            services.Phase `json:"phase"`
	LastOutcome      services.Phase `json:"lastOutcome,omitempty"`
	BackendStatus    string         `json:"backendStatus,omitempty"`
	LastRefreshedAt  string         `json:"lastRefreshedAt,omitempty"`
	Error            string         `json:"error,omitempty"`
}

func newStatusResponse(v services.View) statusResponse {
	return statusResponse{
		IsRefreshing:     v.IsRefreshing,
		ServerRefreshing: v.ServerRefreshing,
		IsLoading:        v.IsLoading,
		Phase:            v.Phase,
		LastOutcome:      v.LastOutcome,
		BackendStatus:    v.BackendStatus,
		LastRefreshedAt:  v.LastRefreshedAt,
		Error:            v.Error,
	}
}

// HandlePredictions serves the merged predictions. ?attention=true keeps
// only the products flagged for review.
func (h *APIHandlers) HandlePredictions(w http.ResponseWriter, r *http.Request) {
	v := h.predictions.View()

	predictions := v.Predictions
	if raw := r.URL.Query().Get("attention"); raw != "" {
		onlyAttention, err := strconv.ParseBool(raw)
		if err != nil {
			errors.WriteError(w, h.logger, errors.BadRequestWrap(err, "attention must be a boolean"), observability.GetRequestID(r.Context()))
			return
		}
		if onlyAttention {
			predictions = make([]models.CombinedPrediction, 0, len(v.Predictions))
			for _, p := range v.Predictions {
				if services.NeedsAttention(p) {
					predictions = append(predictions, p)
				}
			}
		}
	}

	errors.WriteSuccessWithHeaders(w, predictionsResponse{
		Predictions:     predictions,
		Stats:           v.Stats,
		TotalCount:      v.TotalCount,
		LastRefreshedAt: v.LastRefreshedAt,
		IsRefreshing:    v.IsRefreshing,
		IsLoading:       v.IsLoading,
		Error:           v.Error,
	}, noStore)
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccessWithHeaders(w, h.predictions.View().Stats, noStore)
}

func (h *APIHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccessWithHeaders(w, newStatusResponse(h.predictions.View()), noStore)
}

// HandleRefresh starts a background refresh cycle. The response is sent as
// soon as the backend has accepted the job.
func (h *APIHandlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	if err := h.predictions.RequestRefresh(r.Context()); err != nil {
		if stderrors.Is(err, services.ErrDisposed) {
			errors.WriteError(w, h.logger, errors.ServiceUnavailable("Service is shutting down").WithRetryAfter(shutdownRetryAfter), requestID)
			return
		}
		errors.WriteError(w, h.logger, errors.Upstream(err, h.predictions.View().Error), requestID)
		return
	}

	errors.WriteSuccessStatus(w, http.StatusAccepted, newStatusResponse(h.predictions.View()))
}

// HandleReload re-reads the cached snapshot. A failed read still answers
// 200: the stale data stays valid and the error is reported in the body.
func (h *APIHandlers) HandleReload(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	if err := h.predictions.ReloadCache(r.Context()); err != nil {
		if stderrors.Is(err, services.ErrDisposed) {
			errors.WriteError(w, h.logger, errors.ServiceUnavailable("Service is shutting down").WithRetryAfter(shutdownRetryAfter), requestID)
			return
		}
		h.logger.Warn("cache reload failed", "error", err, "request_id", requestID)
	}

	errors.WriteSuccess(w, newStatusResponse(h.predictions.View()))
}

type backendHealth struct {
	Reachable          bool   `json:"reachable"`
	Service            string `json:"service,omitempty"`
	MLServiceAvailable bool   `json:"mlServiceAvailable"`
	Error              string `json:"error,omitempty"`
}

type healthResponse struct {
	Status    string        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Version   string        `json:"version"`
	Uptime    string        `json:"uptime"`
	Subject   string        `json:"subject,omitempty"`
	Backend   backendHealth `json:"backend"`
}

// HandleHealth reports the service as degraded rather than failing when
// the backend cannot be reached.
func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Subject:   h.session.Subject(),
	}

	health, err := h.backend.Health(r.Context())
	if err != nil {
		resp.Status = "degraded"
		resp.Backend.Error = err.Error()
	} else {
		resp.Backend = backendHealth{
			Reachable:          true,
			Service:            health.SpringBootService,
			MLServiceAvailable: health.MLServiceAvailable,
		}
		if !health.MLServiceAvailable {
			resp.Status = "degraded"
		}
	}

	errors.WriteSuccessWithHeaders(w, resp, noStore)
}

var noStore = map[string]string{"Cache-Control": "no-store"}
