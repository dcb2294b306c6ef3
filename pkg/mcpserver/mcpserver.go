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

// Package mcpserver exposes search, get_page and list_scopes as MCP
// tools over stdio or streamable HTTP.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/searchsocket"
	"github.com/kadirpekel/searchsocket/pkg/config"
	httpserver "github.com/kadirpekel/searchsocket/pkg/server"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

// Server manages the MCP server lifecycle over the configured
// transport.
type Server struct {
	cfg    *config.Config
	tools  *Tools
	store  vector.Store
	logger *slog.Logger
	mcp    *server.MCPServer
}

// New builds the MCP server and registers the tool set.
func New(cfg *config.Config, tools *Tools, store vector.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mcpServer := server.NewMCPServer(
		"searchsocket",
		searchsocket.Version,
		server.WithToolCapabilities(true),
	)
	tools.Register(mcpServer)
	return &Server{cfg: cfg, tools: tools, store: store, logger: logger, mcp: mcpServer}
}

// Serve blocks until the transport stops or ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	switch s.cfg.MCP.Transport {
	case config.TransportStdio:
		return s.serveStdio(ctx)
	case config.TransportHTTP:
		return s.serveHTTP(ctx)
	default:
		return sserr.New(sserr.CodeConfigMissing, "unknown mcp.transport: %s", s.cfg.MCP.Transport)
	}
}

func (s *Server) serveStdio(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening on stdio")
		errCh <- server.ServeStdio(s.mcp)
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// serveHTTP mounts the streamable MCP endpoint next to the plain HTTP
// search surface so one port serves both.
func (s *Server) serveHTTP(ctx context.Context) error {
	streamable := server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(s.cfg.MCP.HTTP.Path),
	)

	r := chi.NewRouter()
	r.Handle(s.cfg.MCP.HTTP.Path, streamable)
	r.Mount("/", httpserver.New(s.tools.engine, s.store, s.logger).Router())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.MCP.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening", "addr", srv.Addr, "path", s.cfg.MCP.HTTP.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
