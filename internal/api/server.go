// Package api serves the Slack Events API endpoint and the health
// endpoints, and hands accepted mentions to the conversation layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack/slackevents"

	"github.com/nugget/gitbot/internal/buildinfo"
	"github.com/nugget/gitbot/internal/config"
	"github.com/nugget/gitbot/internal/connwatch"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// ServerConfig holds the settings and dependencies for a Server.
type ServerConfig struct {
	Address    string
	Port       int
	EventsPath string // default /slack/events
	Intake     *Intake
	Services   *connwatch.Manager // optional; reported by /health
	Logger     *slog.Logger
}

// Server is the HTTP server.
type Server struct {
	address    string
	port       int
	eventsPath string
	intake     *Intake
	services   *connwatch.Manager
	logger     *slog.Logger
	server     *http.Server
}

// NewServer creates a new server. It does not listen until Start.
func NewServer(cfg ServerConfig) *Server {
	path := cfg.EventsPath
	if path == "" {
		path = "/slack/events"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:    cfg.Address,
		port:       cfg.Port,
		eventsPath: path,
		intake:     cfg.Intake,
		services:   cfg.Services,
		logger:     logger,
	}
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+s.eventsPath, s.handleEvents)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the server stops.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port, "events_path", s.eventsPath)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for running turns.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if s.intake != nil {
		if werr := s.intake.Wait(ctx); werr != nil && err == nil {
			err = fmt.Errorf("waiting for turns: %w", werr)
		}
	}
	return err
}

type requestIDKey struct{}

// RequestID returns the id withLogging assigned to the request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		s.logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "gitbot",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

// handleHealth always answers 200 so a dependency outage does not get
// the process restarted; "degraded" tells operators to look closer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.services == nil {
		writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
		return
	}
	status := "healthy"
	if !s.services.Healthy() {
		status = "degraded"
	}
	writeJSON(w, map[string]any{
		"status":   status,
		"services": s.services.Status(),
	}, s.logger)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := s.logger.With("request_id", RequestID(r.Context()))

	body, err := captureBody(w, r)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	log.Log(r.Context(), config.LevelTrace, "events callback", "body", string(body))

	cb, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil && cb.Type == "" {
		log.Debug("unparseable events callback", "error", err)
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	switch cb.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "invalid challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge.Challenge))
		return

	case slackevents.CallbackEvent:
		if err != nil {
			// Inner event types we do not map still get acknowledged.
			log.Debug("ignoring callback", "error", err)
			break
		}
		if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
			log.Info("ignoring redelivered callback",
				"retry", retry,
				"reason", r.Header.Get("X-Slack-Retry-Reason"),
			)
			break
		}
		if s.intake != nil && !s.intake.Dispatch(r.Context(), cb, body) {
			log.Debug("callback is not a mention", "inner_type", cb.InnerEvent.Type)
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
}
