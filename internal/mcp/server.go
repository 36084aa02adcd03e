package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/stopsearch/internal/stopsearch"
	"github.com/dshills/stopsearch/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "stopsearch"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// StatusReporter is implemented by stores that can describe their contents
type StatusReporter interface {
	Status(ctx context.Context) (*storage.Status, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	engine *stopsearch.Engine
	status StatusReporter // nil when the store cannot report statistics
	logger *slog.Logger
}

// NewServer creates a new MCP server answering from engine. status may be nil.
func NewServer(engine *stopsearch.Engine, status StatusReporter, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("search engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:    mcpServer,
		engine: engine,
		status: status,
		logger: logger.With("component", "mcp"),
	}

	// Register tools
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio", "server", ServerName, "version", ServerVersion)
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(searchStopsTool(), s.handleSearchStops)
	s.mcp.AddTool(normalizeTextTool(), s.handleNormalizeText)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	return nil
}
