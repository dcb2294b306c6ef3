// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes search over HTTP: a JSON endpoint, an SSE
// streaming variant that emits the initial recall before the reranked
// final, health, and prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/searchsocket/pkg/search"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

// Server is the HTTP search surface.
type Server struct {
	engine  *search.Engine
	store   vector.Store
	metrics *Metrics
	logger  *slog.Logger
	http    *http.Server
}

// New creates a server around an engine and its store.
func New(engine *search.Engine, store vector.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		store:   store,
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Router builds the chi router. Exposed separately so the MCP HTTP
// transport can mount the search endpoints next to its own path.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/search", s.handleSearch)
	r.Post("/search/stream", s.handleSearchStream)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.observeSearch("error", time.Since(started).Seconds())
		writeError(w, sserr.Wrap(sserr.CodeInvalidRequest, err, "invalid search payload"))
		return
	}

	resp, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.metrics.observeSearch("error", time.Since(started).Seconds())
		s.logger.Warn("search failed", "error", err)
		writeError(w, err)
		return
	}
	s.metrics.observeSearch("ok", time.Since(started).Seconds())
	writeJSON(w, http.StatusOK, resp)
}

// handleSearchStream streams search phases as SSE events. The event
// name is the phase; data is the same envelope /search returns.
func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.observeSearch("error", time.Since(started).Seconds())
		writeError(w, sserr.Wrap(sserr.CodeInvalidRequest, err, "invalid search payload"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, sserr.New(sserr.CodeInternal, "streaming unsupported by connection"))
		return
	}

	events, errOut := s.engine.SearchStream(r.Context(), req)

	// Headers are deferred until the first phase arrives so request
	// errors can still travel as a JSON status.
	wroteHeader := false
	for ev := range events {
		if !wroteHeader {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			wroteHeader = true
		}
		payload, err := json.Marshal(ev.Data)
		if err != nil {
			s.logger.Warn("failed to encode stream event", "error", err)
			break
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Phase, payload)
		flusher.Flush()
	}

	if err := <-errOut; err != nil {
		s.metrics.observeSearch("error", time.Since(started).Seconds())
		if !wroteHeader {
			writeError(w, err)
			return
		}
		// Mid-stream failures ride the stream as an error event.
		msg, _ := json.Marshal(map[string]string{
			"code":    string(sserr.CodeOf(err)),
			"message": err.Error(),
		})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", msg)
		flusher.Flush()
		return
	}
	s.metrics.observeSearch("ok", time.Since(started).Seconds())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the shared error envelope with the status mapped
// from the error code.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, sserr.StatusOf(err), map[string]any{
		"error": map[string]string{
			"code":    string(sserr.CodeOf(err)),
			"message": err.Error(),
		},
	})
}
