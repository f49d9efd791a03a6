// Package mcpbridge runs a streamable HTTP MCP server that gives the engine
// access to the client's filesystem. Reads and writes are proxied over the
// ACP connection so unsaved editor buffers are visible to the engine.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/bridge"
	"github.com/kandev/acpbridge/internal/common/config"
	"github.com/kandev/acpbridge/internal/common/logger"
)

// fsClient is the ACP client filesystem round trip.
type fsClient interface {
	ReadTextFile(ctx context.Context, req acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error)
	WriteTextFile(ctx context.Context, req acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error)
}

// SessionResolver finds sessions so tool calls can be routed and their file
// caches updated.
type SessionResolver interface {
	Session(id acp.SessionId) (*bridge.Session, bool)
	DefaultSession() (*bridge.Session, bool)
}

// Server hosts the bridge's MCP tools over streamable HTTP.
type Server struct {
	cfg      config.MCPConfig
	client   fsClient
	resolver SessionResolver
	caps     acp.FileSystemCapability
	logger   *logger.Logger

	streamable *server.StreamableHTTPServer
	httpServer *http.Server
	mu         sync.Mutex
	port       int
	running    bool
}

func New(cfg config.MCPConfig, client fsClient, resolver SessionResolver, caps acp.FileSystemCapability, log *logger.Logger) *Server {
	return &Server{
		cfg:      cfg,
		client:   client,
		resolver: resolver,
		caps:     caps,
		logger:   log.WithFields(zap.String("component", "mcp-server")),
	}
}

// Start begins listening. Tools the client cannot serve are not registered;
// with no filesystem capability at all the server stays down.
func (s *Server) Start(ctx context.Context) error {
	if !s.caps.ReadTextFile && !s.caps.WriteTextFile {
		s.logger.Info("client has no filesystem capability, MCP server disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	mcpServer := server.NewMCPServer(
		"acpbridge",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	registerTools(mcpServer, s)

	s.streamable = server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", s.streamable)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.mu.Lock()
		s.port = tcpAddr.Port
		s.mu.Unlock()
	}

	s.httpServer = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("MCP server listening",
			zap.String("host", s.cfg.Host),
			zap.Int("port", s.Port()))

		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("MCP server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
	}
	if s.streamable != nil {
		if err := s.streamable.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown streamable server", zap.Error(err))
		}
	}
	return nil
}

// Port returns the bound port, which may differ from the configured one when
// the config asked for port zero.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Endpoint returns the streamable HTTP URL engines should connect to.
func (s *Server) Endpoint() string {
	host := s.cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d/mcp", host, s.Port())
}

// WriteEngineConfig writes the --mcp-config file pointing the engine at this
// server, and returns its path. Returns empty when the server is not running.
func (s *Server) WriteEngineConfig(dir string) (string, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return "", nil
	}

	doc := map[string]any{
		"mcpServers": map[string]any{
			"acpbridge": map[string]any{
				"type": "http",
				"url":  s.Endpoint(),
			},
		},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "mcp-config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write mcp config: %w", err)
	}
	return path, nil
}

// session resolves a tool call's target session. With a single live session
// the id may be omitted.
func (s *Server) session(id string) (*bridge.Session, error) {
	if id == "" {
		sess, ok := s.resolver.DefaultSession()
		if !ok {
			return nil, fmt.Errorf("session_id is required when multiple sessions are active")
		}
		return sess, nil
	}
	sess, ok := s.resolver.Session(acp.SessionId(id))
	if !ok {
		return nil, fmt.Errorf("unknown session %q", id)
	}
	return sess, nil
}
