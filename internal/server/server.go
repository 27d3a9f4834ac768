// Package server exposes the advisory pipeline over HTTP: POST /v1/query is
// the synchronous caller boundary, plus health and readiness probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/superadvisor/internal/advisor"
	"github.com/dativo-io/superadvisor/internal/member"
	"github.com/dativo-io/superadvisor/internal/requestctx"
)

// Server hosts the HTTP API.
type Server struct {
	httpServer *http.Server
	controller *advisor.Controller
	members    *member.Store
	version    string
}

// New builds the server on the given listen address.
func New(addr string, controller *advisor.Controller, members *member.Store, version string) *Server {
	s := &Server{controller: controller, members: members, version: version}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/query", s.handleQuery)
	return r
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("http_server_started")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type queryRequest struct {
	MemberID       string `json:"member_id"`
	SessionID      string `json:"session_id"`
	Country        string `json:"country"`
	Query          string `json:"query"`
	ValidationMode string `json:"validation_mode,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" || req.MemberID == "" || req.Country == "" {
		respondError(w, http.StatusBadRequest, "query, member_id, and country are required")
		return
	}

	ctx := r.Context()
	if req.SessionID != "" {
		ctx = requestctx.SetSessionID(ctx, req.SessionID)
	}
	if cid := r.Header.Get("X-Correlation-Id"); cid != "" {
		ctx = requestctx.SetCorrelationID(ctx, cid)
	}

	mc, err := s.members.Get(ctx, req.MemberID)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			respondError(w, http.StatusNotFound, "unknown member")
			return
		}
		log.Error().Err(err).Msg("member_lookup_failed")
		respondError(w, http.StatusInternalServerError, "member lookup failed")
		return
	}

	outcome, err := s.controller.Process(ctx, &advisor.Query{
		Text:           req.Query,
		MemberID:       req.MemberID,
		SessionID:      req.SessionID,
		Country:        req.Country,
		ValidationMode: req.ValidationMode,
	}, mc)
	if err != nil {
		// Terminal-but-expected outcomes return 200 below; only fatal
		// failures land here, with the generic message and no detail.
		log.Error().
			Str("correlation_id", outcome.CorrelationID).
			Err(err).
			Msg("query_fatal_error")
		respondJSON(w, http.StatusBadGateway, outcome)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response_encode_failed")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
