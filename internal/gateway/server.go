// Package gateway provides the local HTTP gateway server.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"appdock/internal/config"
	"appdock/internal/gateway/handlers"
	"appdock/internal/gateway/middleware"
	"appdock/pkg/logger"
)

// Server is the HTTP face of the harness: it accepts event envelopes,
// inbound webhooks, and health probes, and hands everything else to the
// dispatcher.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	dispatcher handlers.EventDispatcher
}

// NewServer creates a gateway server around the dispatcher.
func NewServer(cfg *config.Config, dispatcher handlers.EventDispatcher) *Server {
	router := mux.NewRouter()

	handler := middleware.Recovery(middleware.Logging(router))

	s := &Server{
		httpServer: &http.Server{
			Handler:      handler,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		router:     router,
		config:     cfg,
		dispatcher: dispatcher,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the server routes.
func (s *Server) setupRoutes() {
	tunnel := s.config.Gateway.TunnelURL

	event := handlers.NewEventHandler(s.dispatcher, tunnel)
	hook := handlers.NewHookHandler(s.dispatcher, tunnel)

	s.router.HandleFunc("/event/execute", event.Execute).Methods(http.MethodPost)
	s.router.HandleFunc("/event/hook/{product}", hook.Receive).Methods(http.MethodPost)
	s.router.HandleFunc("/event/hook/{product}/{path:.*}", hook.Receive).Methods(http.MethodPost)
	s.router.HandleFunc("/health",
		handlers.HealthHandler(s.config.Version, s.config.App.Dir)).Methods(http.MethodGet)
}

// Router exposes the route table, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	handlers.InitStartTime()

	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)
	s.httpServer.Addr = addr

	logger.Info().
		Str("addr", addr).
		Msg("Starting gateway server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("Shutting down gateway server")
	return s.httpServer.Shutdown(ctx)
}
