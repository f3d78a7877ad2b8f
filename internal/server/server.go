// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/contract-observer/internal/blockfeed"
	"github.com/smartdevs17/contract-observer/internal/config"
	"github.com/smartdevs17/contract-observer/internal/connection"
	"github.com/smartdevs17/contract-observer/internal/contract"
	"github.com/smartdevs17/contract-observer/internal/metrics"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

// HTTPServer exposes the observer's tracking operations and health
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	service        *contract.Service
	tracker        *contract.Tracker
	feed           *blockfeed.Feed
	connection     connection.Manager
	metricsManager *metrics.Manager
	logger         *logrus.Logger
	version        string
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.ServerConfig,
	service *contract.Service,
	tracker *contract.Tracker,
	feed *blockfeed.Feed,
	conn connection.Manager,
	metricsManager *metrics.Manager,
	version string,
) (*HTTPServer, error) {

	server := &HTTPServer{
		config:         cfg,
		service:        service,
		tracker:        tracker,
		feed:           feed,
		connection:     conn,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		version:        version,
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoints
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	// Metrics endpoints
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Tracking endpoints
	api.HandleFunc("/track/balance", s.trackBalanceHandler).Methods("POST")
	api.HandleFunc("/track/call", s.trackCallHandler).Methods("POST")
	api.HandleFunc("/tracked", s.listTrackedHandler).Methods("GET")

	// Subject endpoints
	api.HandleFunc("/subjects", s.listSubjectsHandler).Methods("GET")
	api.HandleFunc("/subjects/{key}", s.getSubjectHandler).Methods("GET")

	// Scheduler and cache endpoints
	api.HandleFunc("/refresh", s.refreshHandler).Methods("POST")
	api.HandleFunc("/cache/reset", s.cacheResetHandler).Methods("POST")

	// Handle inspection
	api.HandleFunc("/contracts/{address}", s.getHandleHandler).Methods("GET")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	})

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		s.metricsManager.SetComponentHealth("connection", s.connection.IsConnected())
		go s.systemMetricsUpdater()
	}

	// Create a channel to receive startup errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", map[string]interface{}{"error": err})
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.UpdateSystemMetrics()
		s.metricsManager.SetComponentHealth("connection", s.connection.IsConnected())
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Middleware

// loggingMiddleware logs HTTP requests
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID, _ := utils.GenerateID()

		next.ServeHTTP(w, r)

		s.logger.Info("HTTP request", map[string]interface{}{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start),
			"user_agent": r.UserAgent(),
			"remote_ip":  r.RemoteAddr,
		})
	})
}

// corsMiddleware handles CORS
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.version,
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns detailed health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	connHealthy := s.connection.IsConnected()

	status := "healthy"
	if !connHealthy {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"version":   s.version,
		"components": map[string]interface{}{
			"connection": connHealthy,
			"tracker":    s.tracker.Stats(),
			"handles":    s.service.CachedHandles(),
		},
	}

	s.writeJSON(w, http.StatusOK, health)
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"connection":      s.connection.Stats(),
		"tracker":         s.tracker.Stats(),
		"cached_handles":  s.service.CachedHandles(),
		"subjects":        s.service.Directory().Len(),
		"last_block":      s.feed.LastPublished(),
		"metrics_enabled": s.config.EnableMetrics,
	}
	if s.metricsManager != nil {
		stats["uptime"] = s.metricsManager.Uptime().String()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Tracking Handlers

type trackBalanceRequest struct {
	Token   string `json:"token"`
	Account string `json:"account"`
}

// trackBalanceHandler registers balance tracking for a (token, account) pair
func (s *HTTPServer) trackBalanceHandler(w http.ResponseWriter, r *http.Request) {
	var req trackBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	subject, err := s.service.TrackBalance(r.Context(), req.Token, req.Account)
	if err != nil {
		s.writeError(w, s.statusForError(err), "Failed to track balance", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"key":     subject.Key(),
		"message": "Balance tracking registered",
	})
}

type trackCallRequest struct {
	Address   string            `json:"address"`
	Function  string            `json:"function"`
	Args      []interface{}     `json:"args"`
	Overrides *config.Overrides `json:"overrides,omitempty"`
	ABI       json.RawMessage   `json:"abi,omitempty"`
}

// trackCallHandler registers function call tracking
func (s *HTTPServer) trackCallHandler(w http.ResponseWriter, r *http.Request) {
	var req trackCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	handle, err := s.service.GetHandle(r.Context(), req.Address, string(req.ABI))
	if err != nil {
		s.writeError(w, s.statusForError(err), "Failed to resolve contract handle", err)
		return
	}

	fn, ok := handle.Function(req.Function)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Function not declared on contract",
			utils.NewAppError(utils.ErrCodeUnknownFunction, "Unknown function", req.Function))
		return
	}

	args, err := contract.CoerceArgs(handle.ABI, req.Function, req.Args)
	if err != nil {
		s.writeError(w, s.statusForError(err), "Invalid arguments", err)
		return
	}

	var callerOverrides *contract.CallOverrides
	if req.Overrides != nil {
		callerOverrides, err = contract.OverridesFromConfig(*req.Overrides)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid overrides", err)
			return
		}
	}

	subject, err := fn.Track(r.Context(), callerOverrides, args...)
	if err != nil {
		s.writeError(w, s.statusForError(err), "Failed to track call", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"key":     subject.Key(),
		"message": "Call tracking registered",
	})
}

// listTrackedHandler lists all tracked keys
func (s *HTTPServer) listTrackedHandler(w http.ResponseWriter, r *http.Request) {
	keys := s.tracker.TrackedKeys()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys":  keys,
		"total": len(keys),
	})
}

// Subject Handlers

// listSubjectsHandler lists all subject keys
func (s *HTTPServer) listSubjectsHandler(w http.ResponseWriter, r *http.Request) {
	keys := s.service.Directory().Keys()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys":  keys,
		"total": len(keys),
	})
}

// getSubjectHandler returns the latest value published for a key
func (s *HTTPServer) getSubjectHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["key"]

	subject := s.service.Directory().Subject(key)
	latest, ok := subject.Latest()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":         key,
		"value":       latest,
		"has_value":   ok,
		"subscribers": subject.SubscriberCount(),
	})
}

// Scheduler Handlers

type refreshRequest struct {
	Block uint64 `json:"block"`
}

// refreshHandler publishes a bump signal forcing a refresh cycle
func (s *HTTPServer) refreshHandler(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	block := req.Block
	if block == 0 {
		block = s.feed.LastPublished()
	}
	if block == 0 {
		// Bumping to 0 would rewind the scheduler's cursor and provoke a
		// redundant cycle on the next block advance.
		s.writeError(w, http.StatusBadRequest, "No block observed yet",
			utils.NewAppError(utils.ErrCodeValidation, "Refresh requires a block number before the first feed publication", ""))
		return
	}

	s.feed.Bump(block)

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Refresh scheduled",
		"block":   block,
	})
}

// cacheResetHandler clears the contract handle cache
func (s *HTTPServer) cacheResetHandler(w http.ResponseWriter, r *http.Request) {
	s.service.ResetCache()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Handle cache cleared",
	})
}

// Handle Handlers

// getHandleHandler describes the handle for an address
func (s *HTTPServer) getHandleHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	address := vars["address"]

	handle, err := s.service.GetHandle(r.Context(), address, "")
	if err != nil {
		s.writeError(w, s.statusForError(err), "Failed to resolve contract handle", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":    handle.Address.Hex(),
		"abi_source": string(handle.Source),
		"functions":  handle.FunctionNames(),
	})
}

// Utility Methods

// statusForError maps coded application errors to HTTP statuses
func (s *HTTPServer) statusForError(err error) int {
	switch {
	case utils.HasCode(err, utils.ErrCodeInvalidAddress),
		utils.HasCode(err, utils.ErrCodeArgumentCount),
		utils.HasCode(err, utils.ErrCodeValidation):
		return http.StatusBadRequest
	case utils.HasCode(err, utils.ErrCodeUnknownFunction),
		utils.HasCode(err, utils.ErrCodeNotFound):
		return http.StatusNotFound
	case utils.HasCode(err, utils.ErrCodeConnection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", map[string]interface{}{"error": err})
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.Error("HTTP error", map[string]interface{}{
			"status":  status,
			"message": message,
			"error":   err,
		})
	}

	s.writeJSON(w, status, errorResponse)
}
