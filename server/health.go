// Package server exposes the scheduler's liveness over a thin HTTP layer.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// BrokerStatus reports broker connectivity. Satisfied by *broker.Gateway.
type BrokerStatus interface {
	Connected() bool
}

// StoreStatus reports store reachability. Satisfied by *job.Store.
type StoreStatus interface {
	Ping() error
}

// Server surfaces the liveness predicate "broker connected AND store
// reachable" at /health, plus a service banner at /.
type Server struct {
	httpServer *http.Server
	broker     BrokerStatus
	store      StoreStatus
	version    string
	logger     *zap.SugaredLogger
}

// New creates the health server listening on addr.
func New(addr string, broker BrokerStatus, store StoreStatus, version string, logger *zap.SugaredLogger) *Server {
	s := &Server{
		broker:  broker,
		store:   store,
		version: version,
		logger:  logger.Named("http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Start serves HTTP in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Infow("Health server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("Health server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "job_scheduler",
		"version": s.version,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	brokerOK := s.broker.Connected()
	storeErr := s.store.Ping()

	body := map[string]interface{}{
		"broker_connected": brokerOK,
		"store_reachable":  storeErr == nil,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}

	if brokerOK && storeErr == nil {
		body["status"] = "healthy"
		writeJSON(w, http.StatusOK, body)
		return
	}

	body["status"] = "unhealthy"
	if storeErr != nil {
		body["store_error"] = storeErr.Error()
	}
	writeJSON(w, http.StatusServiceUnavailable, body)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
