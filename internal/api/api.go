// Package api provides HTTP handlers and the main API server logic for CallPipe.
//
// It exposes RESTful endpoints for managing call scenarios, enqueueing phone
// numbers, and inspecting call sessions, plus the Twilio webhook surface that
// translates telephony events into execution engine calls.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CallPipe/internal/flow"
	"github.com/BTreeMap/CallPipe/internal/messaging"
	"github.com/BTreeMap/CallPipe/internal/models"
	"github.com/BTreeMap/CallPipe/internal/store"
)

// Default server configuration
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// BaseURL is the externally reachable URL Twilio uses for webhooks,
	// e.g. "https://callpipe.example.com".
	BaseURL string
	// MaxRetries overrides the engine's re-prompt limit for required
	// questions. Zero keeps flow.DefaultMaxRetries.
	MaxRetries int
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithBaseURL sets the externally reachable base URL for Twilio webhooks.
func WithBaseURL(baseURL string) Option {
	return func(o *Opts) {
		o.BaseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithMaxRetries sets the re-prompt limit for required questions.
func WithMaxRetries(n int) Option {
	return func(o *Opts) {
		o.MaxRetries = n
	}
}

// Server hosts the CallPipe HTTP API and Twilio webhook endpoints.
type Server struct {
	st         store.Store
	msgService messaging.Service
	dispatcher *messaging.Dispatcher
	validator  *flow.Validator
	baseURL    string
	addr       string
	maxRetries int

	httpServer *http.Server
}

// NewServer creates an API server backed by the given store and messaging
// service. The dispatcher may be nil; follow-up SMS dispatch is then skipped.
func NewServer(st store.Store, msgService messaging.Service, dispatcher *messaging.Dispatcher, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		st:         st,
		msgService: msgService,
		dispatcher: dispatcher,
		validator:  flow.NewValidator(),
		baseURL:    cfg.BaseURL,
		addr:       cfg.Addr,
		maxRetries: cfg.MaxRetries,
	}
	slog.Debug("api.NewServer created server", "addr", s.addr, "baseURL", s.baseURL)
	return s
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/scenarios", s.scenariosHandler)
	mux.HandleFunc("/scenarios/", s.scenarioHandler)
	mux.HandleFunc("/numbers", s.numbersHandler)
	mux.HandleFunc("/sessions", s.sessionsHandler)
	mux.HandleFunc("/sessions/", s.sessionHandler)
	mux.HandleFunc("/twilio/voice", s.twilioVoiceHandler)
	mux.HandleFunc("/twilio/gather", s.twilioGatherHandler)
	mux.HandleFunc("/twilio/recording", s.twilioRecordingHandler)
	mux.HandleFunc("/twilio/status", s.twilioStatusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails. Shutdown drains in-flight requests up to DefaultShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultRequestTimeout,
		WriteTimeout: DefaultRequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("CallPipe API listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("API server failed", "error", err)
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		slog.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		return nil
	}
}

// engineForScenario loads a scenario and builds an execution engine for it.
func (s *Server) engineForScenario(scenarioID string) (*flow.Engine, error) {
	scenario, err := s.st.GetScenario(scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario %s: %w", scenarioID, err)
	}
	if scenario == nil {
		return nil, models.ErrScenarioNotFound
	}
	graph, err := flow.NewScenarioGraph(*scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to build scenario graph %s: %w", scenarioID, err)
	}
	var engineOpts []flow.EngineOption
	if s.maxRetries > 0 {
		engineOpts = append(engineOpts, flow.WithMaxRetries(s.maxRetries))
	}
	return flow.NewEngine(graph, engineOpts...), nil
}

// webhookURL joins a webhook path with the configured base URL.
func (s *Server) webhookURL(path string) string {
	if s.baseURL == "" {
		return path
	}
	return s.baseURL + path
}

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if _, err := s.st.ListScenarios(); err != nil {
		slog.Warn("Health check: store unavailable", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to reach store"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
