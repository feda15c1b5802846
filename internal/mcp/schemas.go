package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Build or incrementally update the search index of a source tree",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"force_reindex": map[string]any{
					"type":        "boolean",
					"description": "If true, re-embed every file regardless of size and mtime",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search an indexed source tree with natural language or identifiers",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Absolute path to the indexed project",
				},
				"query": map[string]any{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"search_mode": map[string]any{
					"type":        "string",
					"description": "hybrid (keyword + semantic) or semantic only",
					"enum":        []string{"hybrid", "semantic"},
					"default":     "hybrid",
				},
				"filters": map[string]any{
					"type":        "object",
					"description": "Optional filters to narrow search",
					"properties": map[string]any{
						"extensions": map[string]any{
							"type":        "array",
							"description": "Keep files with these extensions, e.g. [\"go\", \"md\"]",
							"items":       map[string]any{"type": "string"},
						},
						"exclude": map[string]any{
							"type":        "array",
							"description": "Drop files matching these glob patterns",
							"items":       map[string]any{"type": "string"},
						},
						"path_prefix": map[string]any{
							"type":        "string",
							"description": "Keep files under this relative directory",
						},
						"kinds": map[string]any{
							"type":        "array",
							"description": "Keep blocks of these kinds",
							"items": map[string]any{
								"type": "string",
								"enum": []string{"function", "method", "type", "const", "var", "file", "section"},
							},
						},
						"min_score": map[string]any{
							"type":        "number",
							"description": "Minimum semantic similarity (0.0-1.0)",
							"minimum":     0.0,
							"maximum":     1.0,
						},
					},
				},
			},
			Required: []string{"path", "query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index state and statistics for a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Absolute path to the project",
				},
			},
			Required: []string{"path"},
		},
	}
}
