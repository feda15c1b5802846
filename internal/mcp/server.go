package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/omengrep/internal/config"
	"github.com/dshills/omengrep/internal/logging"
	"github.com/dshills/omengrep/internal/workspace"
)

const (
	// ServerName is the MCP server name
	ServerName = "omengrep"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// ConfigLoader returns the configuration of the project rooted at root
type ConfigLoader func(root string) (*config.Config, error)

// Server wraps the MCP server with one workspace per project root
type Server struct {
	mcp  *server.MCPServer
	load ConfigLoader
	opts []workspace.Option
	log  *logging.Logger

	mu         sync.Mutex
	workspaces map[string]*workspace.Workspace
}

// NewServer creates a new MCP server instance. Workspaces are opened lazily
// on the first tool call that names their root.
func NewServer(load ConfigLoader, log *logging.Logger, opts ...workspace.Option) (*Server, error) {
	if load == nil {
		return nil, errors.New("config loader is required")
	}
	if log == nil {
		log = logging.Nop()
	}

	s := &Server{
		mcp:        server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		load:       load,
		opts:       append([]workspace.Option{workspace.WithLogger(log)}, opts...),
		log:        log,
		workspaces: make(map[string]*workspace.Workspace),
	}
	s.registerTools()
	return s, nil
}

// Serve speaks MCP over stdin/stdout until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	defer func() { _ = s.Close() }()

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases every open workspace
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for root, ws := range s.workspaces {
		errs = append(errs, ws.Close())
		delete(s.workspaces, root)
	}
	return errors.Join(errs...)
}

// workspace returns the open workspace for root, opening it on first use
func (s *Server) workspace(ctx context.Context, root string) (*workspace.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ws, ok := s.workspaces[root]; ok {
		return ws, nil
	}
	cfg, err := s.load(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	ws, err := workspace.Open(ctx, root, cfg, s.opts...)
	if err != nil {
		return nil, err
	}
	s.workspaces[root] = ws
	s.log.InfoContext(ctx, "workspace opened", "root", root, "index_dir", cfg.IndexDir)
	return ws, nil
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
