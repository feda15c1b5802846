package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/omengrep/internal/indexer"
	"github.com/dshills/omengrep/internal/searcher"
	"github.com/dshills/omengrep/internal/storage"
	"github.com/dshills/omengrep/internal/workspace"
	"github.com/dshills/omengrep/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another build of the project is running
	ErrorCodeNotIndexed         = -32003 // Project not indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeStaleIndex         = -32005 // Index built with another model
)

// maxReportedErrors caps the per-file errors echoed by index_codebase
const maxReportedErrors = 5

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	force := getBoolDefault(args, "force_reindex", false)

	ws, err := s.workspace(ctx, path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open project", map[string]any{
			"error": err.Error(),
		})
	}

	sum, err := ws.Build(ctx, force)
	if errors.Is(err, indexer.ErrBuildInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]any{
			"path": path,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]any{
			"error": err.Error(),
		})
	}

	response := map[string]any{
		"indexed":          true,
		"build_id":         sum.BuildID,
		"model_version":    sum.ModelVersion,
		"rebuilt":          sum.Rebuilt,
		"files_scanned":    sum.FilesScanned,
		"files_indexed":    sum.FilesIndexed,
		"files_unchanged":  sum.Unchanged,
		"files_removed":    sum.Removed,
		"files_skipped":    sum.FilesSkipped,
		"files_failed":     sum.FilesFailed,
		"blocks_upserted":  sum.BlocksUpserted,
		"blocks_retracted": sum.BlocksRetracted,
		"total_blocks":     sum.TotalBlocks,
		"duration_ms":      sum.Duration.Milliseconds(),
	}
	if n := len(sum.Errors); n > 0 {
		if n > maxReportedErrors {
			response["errors"] = sum.Errors[:maxReportedErrors]
			response["error_count"] = n
		} else {
			response["errors"] = sum.Errors
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]any{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]any{
			"param": "limit",
			"value": limit,
		})
	}

	mode := searcher.Mode(getStringDefault(args, "search_mode", string(searcher.ModeHybrid)))
	if mode != searcher.ModeHybrid && mode != searcher.ModeSemantic {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]any{
			"param":   "search_mode",
			"value":   mode,
			"allowed": []searcher.Mode{searcher.ModeHybrid, searcher.ModeSemantic},
		})
	}

	filters, _ := args["filters"].(map[string]any)
	opts := parseFilters(filters)

	cfg, err := s.load(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to load config", map[string]any{
			"error": err.Error(),
		})
	}
	status, err := workspace.Inspect(ctx, path, cfg)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read index", map[string]any{
			"error": err.Error(),
		})
	}
	if !status.Indexed {
		return nil, newMCPError(ErrorCodeNotIndexed, "project not indexed; call index_codebase first", map[string]any{
			"path": path,
		})
	}

	ws, err := s.workspace(ctx, path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open project", map[string]any{
			"error": err.Error(),
		})
	}

	// The open workspace embeds queries with its own model
	status, err = ws.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read index", map[string]any{
			"error": err.Error(),
		})
	}
	if err := status.Searchable(); errors.Is(err, workspace.ErrStaleIndex) {
		return nil, newMCPError(ErrorCodeStaleIndex, "index built with a different model; call index_codebase to rebuild", map[string]any{
			"path":         path,
			"indexed_with": status.ModelVersion,
			"configured":   status.CurrentVersion,
			"error":        err.Error(),
		})
	}

	resp, err := ws.Search(ctx, searcher.Request{
		Query:   query,
		Limit:   limit,
		Mode:    mode,
		Options: opts,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]any{
			"error": err.Error(),
		})
	}

	results := make([]map[string]any, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]any{
			"rank":       r.Rank,
			"score":      r.Score,
			"file":       r.Metadata.File,
			"start_line": r.Metadata.StartLine,
			"end_line":   r.Metadata.EndLine,
			"kind":       r.Metadata.Kind,
			"name":       r.Metadata.Name,
			"content":    r.Text,
		})
	}
	response := map[string]any{
		"query":       query,
		"search_mode": resp.Mode,
		"count":       len(results),
		"results":     results,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	cfg, err := s.load(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to load config", map[string]any{
			"error": err.Error(),
		})
	}
	status, err := workspace.Inspect(ctx, path, cfg)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]any{
			"error": err.Error(),
		})
	}

	if !status.Indexed {
		response := map[string]any{
			"indexed": false,
			"path":    path,
			"message": "Project not indexed. Use index_codebase tool to index this project.",
		}
		if status.Problem != "" {
			response["problem"] = status.Problem
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	response := map[string]any{
		"indexed": true,
		"project": map[string]any{
			"path":            status.Root,
			"index_dir":       status.IndexDir,
			"build_id":        status.BuildID,
			"last_indexed_at": status.LastBuild.Format("2006-01-02T15:04:05Z07:00"),
		},
		"model": map[string]any{
			"indexed_with": status.ModelVersion,
			"configured":   status.CurrentVersion,
			"stale":        status.Stale,
		},
		"statistics": map[string]any{
			"files_count":  status.Files,
			"blocks_count": status.Blocks,
		},
	}
	if st := status.Store; st != nil {
		response["store"] = map[string]any{
			"blocks":         st.Blocks,
			"files":          st.Files,
			"dimension":      st.Dimension,
			"schema_version": st.SchemaVersion,
			"driver":         st.Driver,
			"index_size_mb":  fmt.Sprintf("%.2f", float64(st.SizeBytes)/(1<<20)),
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data any) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    any
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// pathArg extracts and validates the path parameter
func pathArg(args map[string]any) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]any{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]any{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	return filepath.Clean(path), nil
}

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// parseFilters maps the filters object onto store search options
func parseFilters(filters map[string]any) *storage.SearchOptions {
	if len(filters) == 0 {
		return nil
	}
	opts := &storage.SearchOptions{
		Extensions: getStrings(filters, "extensions"),
		Exclude:    getStrings(filters, "exclude"),
		PathPrefix: getStringDefault(filters, "path_prefix", ""),
	}
	for _, k := range getStrings(filters, "kinds") {
		opts.Kinds = append(opts.Kinds, types.BlockKind(k))
	}
	if v, ok := filters["min_score"].(float64); ok {
		opts.MinScore = v
	}
	return opts
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]any) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]any, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]any, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]any, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStrings extracts a string array; JSON decodes arrays as []any
func getStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Validation errors
var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
