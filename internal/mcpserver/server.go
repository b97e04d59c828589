// Package mcpserver exposes a running agent over the MCP protocol: external
// clients can inspect run state, replay journaled events, read budget
// headroom, and request a cooperative stop.
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/agentloop/internal/engine"
	"github.com/mark3labs/agentloop/internal/journal"
	"github.com/mark3labs/agentloop/internal/logger"
	"github.com/mark3labs/mcp-go/server"
)

// Server manages an embedded MCP HTTP server exposing run inspection tools.
type Server struct {
	eng        *engine.Engine
	jnl        *journal.Journal
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
	stdServer  *http.Server // Standard HTTP server that uses the listener
	port       int
	mu         sync.Mutex
}

// New creates a new MCP server for the given engine. The journal may be nil,
// in which case the run_events tool reports that replay is unavailable.
func New(eng *engine.Engine, jnl *journal.Journal) *Server {
	return &Server{
		eng: eng,
		jnl: jnl,
	}
}

// Start starts the MCP HTTP server on the given loopback port (0 picks a
// random available one). Blocks until the server is ready to accept
// connections. Returns the bound port or an error if startup fails.
func (s *Server) Start(ctx context.Context, port int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdServer != nil {
		return 0, fmt.Errorf("server already started")
	}

	s.mcpServer = server.NewMCPServer(
		"agentloop-tools",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	if err := s.registerTools(); err != nil {
		return 0, fmt.Errorf("failed to register tools: %w", err)
	}

	// Port 0 lets the OS pick a free one
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return 0, fmt.Errorf("failed to bind port %d: %w", port, err)
	}

	s.port = listener.Addr().(*net.TCPAddr).Port

	// Pass the listener directly to avoid a TOCTOU race on the port
	mux := http.NewServeMux()
	mcpHandler := server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithStateLess(true),
	)
	mux.Handle("/mcp", mcpHandler)

	s.stdServer = &http.Server{
		Handler: mux,
	}
	s.httpServer = mcpHandler

	logger.Debug("Starting MCP server on port %d", s.port)

	// Capture stdServer reference for goroutine to avoid race with Stop()
	stdServer := s.stdServer
	go func() {
		if err := stdServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("MCP server error: %v", err)
		}
	}()

	logger.Debug("MCP server ready on port %d", s.port)
	return s.port, nil
}

// Stop stops the MCP HTTP server and cleans up resources.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdServer == nil {
		return nil // Already stopped
	}

	logger.Debug("Stopping MCP server")
	if err := s.stdServer.Shutdown(context.Background()); err != nil {
		logger.Warn("Error stopping MCP server: %v", err)
		return fmt.Errorf("failed to stop server: %w", err)
	}

	s.httpServer = nil
	s.stdServer = nil
	s.mcpServer = nil
	logger.Debug("MCP server stopped")
	return nil
}

// URL returns the HTTP URL for the MCP server endpoint.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("http://localhost:%d/mcp", s.port)
}
