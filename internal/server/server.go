package server

import (
	"log/slog"
	"net/http"

	"prediction-dashboard/internal/handlers"
	"prediction-dashboard/internal/session"
)

type Server struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	apiHandlers *handlers.APIHandlers
	sseHandlers *handlers.SSEHandlers
}

type TemplateHandlers struct {
	Dashboard http.HandlerFunc
}

func NewServer(predictions handlers.PredictionService, backend handlers.BackendHealthChecker, sess *session.Session, logger *slog.Logger, templateHandlers *TemplateHandlers) *Server {
	s := &Server{
		mux:         http.NewServeMux(),
		logger:      logger,
		apiHandlers: handlers.NewAPIHandlers(predictions, backend, sess, logger),
		sseHandlers: handlers.NewSSEHandlers(predictions, logger),
	}
	s.setupRoutes(templateHandlers)
	return s
}

func (s *Server) setupRoutes(templateHandlers *TemplateHandlers) {
	// Dashboard routes
	s.mux.HandleFunc("GET /{$}", templateHandlers.Dashboard)
	s.mux.HandleFunc("GET /health", s.apiHandlers.HandleHealth)

	// REST API endpoints
	s.mux.HandleFunc("GET /api/predictions", s.apiHandlers.HandlePredictions)
	s.mux.HandleFunc("GET /api/predictions/stats", s.apiHandlers.HandleStats)
	s.mux.HandleFunc("GET /api/predictions/status", s.apiHandlers.HandleStatus)
	s.mux.HandleFunc("POST /api/predictions/refresh", s.apiHandlers.HandleRefresh)
	s.mux.HandleFunc("POST /api/predictions/reload", s.apiHandlers.HandleReload)

	// Datastar SSE endpoints
	s.mux.HandleFunc("GET /sse/predictions", s.sseHandlers.HandleStream)
	s.mux.HandleFunc("POST /sse/refresh", s.sseHandlers.HandleRefresh)
	s.mux.HandleFunc("POST /sse/reload", s.sseHandlers.HandleReload)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
