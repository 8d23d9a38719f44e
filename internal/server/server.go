// Package server exposes a small read-only status API next to a running
// pipeline: liveness, the current export registry and recent executions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/exports"
	"github.com/specialistvlad/cdflow/internal/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ExportLister is the part of an export registry the API reads.
type ExportLister interface {
	List(ctx context.Context) ([]exports.Export, error)
}

// RunLister returns recorded executions, newest first.
type RunLister interface {
	RecentRuns(ctx context.Context, pipeline string, limit int) ([]store.RunRecord, error)
}

// Server is the status HTTP server.
type Server struct {
	Router  *chi.Mux
	exports ExportLister
	runs    RunLister
	logger  *slog.Logger
	http    *http.Server
}

// New builds the router. Either source may be nil, in which case its
// endpoint answers 404.
func New(ctx context.Context, ex ExportLister, runs RunLister) *Server {
	s := &Server{
		Router:  chi.NewRouter(),
		exports: ex,
		runs:    runs,
		logger:  ctxlog.FromContext(ctx),
	}

	r := s.Router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "cdflow-status")
	})

	r.Get("/health", s.health)
	if ex != nil {
		r.Get("/exports", s.listExports)
	}
	if runs != nil {
		r.Get("/runs", s.listRuns)
	}
	return s
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

type exportView struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Stack     string    `json:"stack,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) listExports(w http.ResponseWriter, r *http.Request) {
	list, err := s.exports.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]exportView, 0, len(list))
	for _, e := range list {
		out = append(out, exportView{Name: e.Name, Value: e.Value, Stack: e.Stack, UpdatedAt: e.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	runs, err := s.runs.RecentRuns(r.Context(), r.URL.Query().Get("pipeline"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("Status request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Start listens on addr in the background. The returned address is the one
// actually bound, which matters when addr uses port 0.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("status server: %w", err)
	}
	s.http = &http.Server{Handler: s.Router, ReadHeaderTimeout: 5 * time.Second}
	bound := ln.Addr().String()
	go func() {
		s.logger.Info("🩺 Status server starting", "address", "http://"+bound+"/health")
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server failed unexpectedly", "error", err)
		}
	}()
	return bound, nil
}

// Shutdown stops a started server, waiting at most five seconds for
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		s.logger.Debug("Status server was not running.")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.logger.Info("🩺 Shutting down status server...")
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("Status server shutdown failed", "error", err)
		return err
	}
	return nil
}
