package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/stopsearch/internal/stopsearch"
	"github.com/dshills/stopsearch/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeStoreFailure  = -32001 // Every retrieval strategy failed
	ErrorCodeNoStore       = -32002 // Engine has no backing store
	ErrorCodeEmptyQuery    = -32004 // Query parameter is empty
)

// handleSearchStops handles the search_stops tool invocation
func (s *Server) handleSearchStops(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, types.ErrEmptyQuery.Error(), map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", stopsearch.DefaultLimit)
	if limit < 1 || limit > stopsearch.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}
	debug := getBoolDefault(args, "debug", false)

	resp, err := s.engine.Search(ctx, stopsearch.Request{Query: query, Limit: limit})
	if err != nil {
		return nil, searchError(err)
	}

	response := map[string]interface{}{
		"query": query,
		"count": len(resp.Stops),
		"stops": resp.Stops,
	}
	if debug {
		response["debug"] = resp.Debug
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// searchError maps engine failures to MCP errors
func searchError(err error) error {
	var rerr *stopsearch.RetrievalError
	switch {
	case errors.Is(err, stopsearch.ErrInvalidLimit):
		return newMCPError(ErrorCodeInvalidParams, "invalid limit", map[string]interface{}{
			"param": "limit",
		})
	case errors.Is(err, stopsearch.ErrNoStore):
		return newMCPError(ErrorCodeNoStore, "no gazetteer configured", nil)
	case errors.As(err, &rerr):
		return newMCPError(ErrorCodeStoreFailure, "stop search failed", map[string]interface{}{
			"error": err.Error(),
		})
	default:
		return newMCPError(ErrorCodeInternalError, "stop search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// handleNormalizeText handles the normalize_text tool invocation
func (s *Server) handleNormalizeText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	text, ok := args["text"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "text parameter is required", map[string]interface{}{
			"param":  "text",
			"reason": "missing",
		})
	}

	normalized := stopsearch.NormalizeSearchText(text)
	response := map[string]interface{}{
		"text":       text,
		"normalized": normalized,
		"core":       stopsearch.StripStopWords(normalized),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	refresh := getBoolDefault(args, "refresh", false)

	caps := s.engine.Capabilities(ctx, refresh)
	strategy := stopsearch.StrategyFallback
	if caps.SupportsPrimary() {
		strategy = stopsearch.StrategyPrimary
	}

	response := map[string]interface{}{
		"capabilities": caps,
		"strategy":     strategy,
		"degraded":     caps.Degraded(),
	}

	if s.status == nil {
		response["statistics"] = nil
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	status, err := s.status.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response["statistics"] = map[string]interface{}{
		"dialect":        status.Dialect,
		"schema_version": status.SchemaVersion,
		"stops":          status.Stops,
		"parents":        status.Parents,
		"index_rows":     status.IndexRows,
		"aliases":        status.Aliases,
		"app_aliases":    status.AppAliases,
		"size_mb":        fmt.Sprintf("%.2f", status.SizeMB),
	}
	response["index_built"] = status.IndexRows > 0

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
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
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}
