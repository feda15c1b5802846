// Package mcp implements the Model Context Protocol (MCP) server for omengrep.
//
// The server exposes three tools to AI coding assistants:
//   - index_codebase: build or update the index of a project
//   - search_code: hybrid or semantic search over an indexed project
//   - get_status: index state, model version and store statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// stdout carries protocol messages only; logs go to stderr.
//
// # Tool: index_codebase
//
//	Request:
//	{
//	  "name": "index_codebase",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "force_reindex": false
//	  }
//	}
//
//	Response:
//	{
//	  "indexed": true,
//	  "files_indexed": 12,
//	  "files_unchanged": 230,
//	  "blocks_upserted": 81,
//	  "total_blocks": 1904,
//	  "duration_ms": 5210
//	}
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "query": "where are retries configured",
//	    "limit": 5,
//	    "search_mode": "hybrid",
//	    "filters": {"extensions": ["go"], "min_score": 0.3}
//	  }
//	}
//
// Each result carries file, line span, block kind and name, score and the
// block text.
//
// # Tool: get_status
//
//	Request:
//	{
//	  "name": "get_status",
//	  "arguments": {"path": "/path/to/project"}
//	}
//
// # Error Codes
//
//   - -32602: Invalid params (bad path, limit out of range, unknown mode)
//   - -32603: Internal error (build or search failure)
//   - -32002: Indexing in progress
//   - -32003: Project not indexed
//   - -32004: Empty query
//   - -32005: Index built with a different model than configured
//
// # Workspaces
//
// Each project root gets its own index directory and workspace, opened on
// first use and kept open until the server stops. Builds on one root never
// overlap; a second index_codebase call while one runs fails with -32002.
package mcp
