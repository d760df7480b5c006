// Package adminapi is the operator's JSON-over-HTTP surface. Every account
// and filter operation is one action posted to /api:
//
//	POST /api {"action": "addUser", "email": "bob@acme.test", "password": "secret"}
//	=> {"success": true, "message": "User created"}
//
// Failures carry "success": false, a message and an HTTP status derived from
// the error kind.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grufocom/postsible/consts"
	"github.com/grufocom/postsible/db"
	"github.com/grufocom/postsible/logger"
	"github.com/grufocom/postsible/pkg/health"
	"github.com/grufocom/postsible/pkg/metrics"
	"github.com/grufocom/postsible/server/sievemanager"
)

// AccountStore is the subset of *db.Database the API calls.
type AccountStore interface {
	Ping(ctx context.Context) error
	ListDomains(ctx context.Context) ([]db.Domain, error)
	AddDomain(ctx context.Context, name string) error
	RemoveDomain(ctx context.Context, name string) error
	ListMailboxes(ctx context.Context, domain string) ([]db.Mailbox, error)
	GetMailbox(ctx context.Context, email string) (*db.Mailbox, error)
	AddMailbox(ctx context.Context, email, password string) error
	RemoveMailbox(ctx context.Context, email string) error
	SetMailboxEnabled(ctx context.Context, email string, enabled bool) error
	ChangePassword(ctx context.Context, email, newPassword string) error
	SetMailboxQuota(ctx context.Context, email string, quota int64) error
	ListAliases(ctx context.Context, domain string) ([]db.Alias, error)
	AddAlias(ctx context.Context, source, destination string) error
	RemoveAlias(ctx context.Context, source string) error
}

// FilterStore is the subset of *sievemanager.Manager the API calls.
type FilterStore interface {
	GetSignature(ctx context.Context, email string) (*string, error)
	SetSignature(ctx context.Context, email, text string) error
	DeleteSignature(ctx context.Context, email string) error
	GetVacation(ctx context.Context, email string) (*sievemanager.Vacation, error)
	SetVacation(ctx context.Context, email, subject, message, startDate, endDate string) error
	DisableVacation(ctx context.Context, email string) error
}

// Server represents the admin API server
type Server struct {
	addr         string
	metricsPath  string
	readTimeout  time.Duration
	writeTimeout time.Duration
	accounts     AccountStore
	filters      FilterStore
	health       *health.Checker
	actions      map[string]actionFunc
	server       *http.Server
}

// ServerOptions holds configuration options for the admin API server.
// An empty MetricsPath disables the prometheus endpoint. Without a Health
// checker /health only pings the account store.
type ServerOptions struct {
	Addr         string
	MetricsPath  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Health       *health.Checker
}

// New creates a new admin API server
func New(accounts AccountStore, filters FilterStore, options ServerOptions) (*Server, error) {
	if accounts == nil || filters == nil {
		return nil, fmt.Errorf("admin API requires an account store and a filter store")
	}
	if options.Addr == "" {
		return nil, fmt.Errorf("admin API listen address is required")
	}

	s := &Server{
		addr:         options.Addr,
		metricsPath:  options.MetricsPath,
		readTimeout:  options.ReadTimeout,
		writeTimeout: options.WriteTimeout,
		accounts:     accounts,
		filters:      filters,
		health:       options.Health,
	}
	if s.health == nil {
		s.health = health.New(health.Check{Name: "database", Critical: true, Run: accounts.Ping})
	}
	s.actions = s.actionTable()
	return s, nil
}

// Start runs the server until ctx is cancelled. Startup and serve errors
// are sent to errChan.
func Start(ctx context.Context, accounts AccountStore, filters FilterStore, options ServerOptions, errChan chan error) {
	server, err := New(accounts, filters, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create admin API server: %w", err)
		return
	}

	logger.Info("Admin API: Starting server", "addr", options.Addr, "metrics", options.MetricsPath)
	if err := server.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("admin API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Admin API: Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Admin API: Error shutting down server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/api", s.handleAction).Methods("POST")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metricsPath != "" {
		router.Handle(s.metricsPath, promhttp.Handler()).Methods("GET")
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Debug("Admin API: Request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
		logger.Debug("Admin API: Request completed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Run(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req Request
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.finish(w, "invalid", start, nil, &consts.ValidationError{Reason: "Invalid JSON body"})
		return
	}

	action, ok := s.actions[req.Action]
	if !ok {
		label := "unknown"
		if req.Action == "" {
			label = "missing"
		}
		s.finish(w, label, start, nil, &consts.ValidationError{Reason: fmt.Sprintf("Unknown action: '%s'", req.Action)})
		return
	}

	resp, err := action(r.Context(), &req)
	s.finish(w, req.Action, start, resp, err)
}

func (s *Server) finish(w http.ResponseWriter, action string, start time.Time, resp Response, err error) {
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		if status == http.StatusInternalServerError {
			logger.Error("Admin API: Action failed", "action", action, "error", err)
			resp = Response{"success": false, "message": "Internal server error"}
		} else {
			logger.Debug("Admin API: Action rejected", "action", action, "status", status, "error", err)
			resp = Response{"success": false, "message": err.Error()}
		}
	} else if resp == nil {
		resp = Response{"success": true}
	} else {
		resp["success"] = true
	}

	metrics.HTTPRequestsTotal.WithLabelValues(action, strconv.Itoa(status)).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	writeJSON(w, status, resp)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, consts.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, consts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, consts.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, consts.ErrCompile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, consts.ErrExternalTool):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Admin API: Error encoding JSON response", "error", err)
	}
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{"success": false, "message": message})
}
