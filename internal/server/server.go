// Package server provides the HTTP server and routing for the engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/kagaztrade/kagaz/internal/database"
	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/kagaztrade/kagaz/internal/events"
	"github.com/kagaztrade/kagaz/internal/modules/accounts"
	"github.com/kagaztrade/kagaz/internal/modules/analytics"
	"github.com/kagaztrade/kagaz/internal/modules/orders"
	"github.com/kagaztrade/kagaz/internal/modules/trading"
	"github.com/kagaztrade/kagaz/internal/version"
)

// Config holds server configuration
type Config struct {
	Log         zerolog.Logger
	DB          *database.DB
	Port        int
	DataDir     string
	Orders      *orders.Service
	AccountRepo *accounts.AccountRepository
	TradeRepo   *trading.TradeRepository
	Analytics   *analytics.Service
	Bus         *events.Bus
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	db      *database.DB
	bus     *events.Bus
	dataDir string

	accountHandlers *AccountHandlers
	orderHandlers   *OrderHandlers
	systemHandlers  *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		db:      cfg.DB,
		bus:     cfg.Bus,
		dataDir: cfg.DataDir,
	}

	s.accountHandlers = NewAccountHandlers(cfg.DB, cfg.AccountRepo, cfg.Orders, cfg.TradeRepo, cfg.Analytics, cfg.Log)
	s.orderHandlers = NewOrderHandlers(cfg.Orders, cfg.Log)
	s.systemHandlers = NewSystemHandlers(cfg.DB, cfg.DataDir, cfg.Log)

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", s.accountHandlers.HandleCreate)
			r.Get("/", s.accountHandlers.HandleList)
			r.Get("/{id}", s.accountHandlers.HandleGet)
			r.Get("/{id}/positions", s.accountHandlers.HandlePositions)
			r.Get("/{id}/orders", s.accountHandlers.HandleOrders)
			r.Get("/{id}/trades", s.accountHandlers.HandleTrades)
			r.Get("/{id}/analytics", s.accountHandlers.HandleAnalytics)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.orderHandlers.HandlePlace)
			r.Get("/{id}", s.orderHandlers.HandleGet)
			r.Post("/{id}/cancel", s.orderHandlers.HandleCancel)
			r.Patch("/{id}", s.orderHandlers.HandleModify)
		})

		r.Post("/positions/{id}/close", s.orderHandlers.HandleClosePosition)

		r.Get("/events/recent", s.handleRecentEvents)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth handles liveness checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.log, w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": version.Version,
		"service": "kagaz",
	})
}

// handleRecentEvents returns the most recent engine events, newest first
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(s.log, w, http.StatusBadRequest, fmt.Errorf("invalid limit: %q", raw))
			return
		}
		limit = n
	}

	writeJSON(s.log, w, http.StatusOK, map[string]interface{}{
		"events": s.bus.Recent(limit),
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// writeJSON writes a JSON response
func writeJSON(log zerolog.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func writeError(log zerolog.Logger, w http.ResponseWriter, status int, err error) {
	writeJSON(log, w, status, map[string]interface{}{
		"error": err.Error(),
	})
}

// writeDomainError maps domain errors to HTTP status codes
func writeDomainError(log zerolog.Logger, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidOrderState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrPriceUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeError(log, w, status, err)
}
