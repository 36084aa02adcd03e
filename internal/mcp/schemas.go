package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/stopsearch/internal/stopsearch"
)

// searchStopsTool returns the tool definition for search_stops
func searchStopsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_stops",
		Description: "Search public-transport stops by name, tolerant of accents, abbreviations, typos and aliases",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Stop name as typed by a user, e.g. 'zurich hb' or 'Lausanne, gare'",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of stops to return (1-100)",
					"default":     stopsearch.DefaultLimit,
					"minimum":     1,
					"maximum":     stopsearch.MaxLimit,
				},
				"debug": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, include the retrieval trace and score breakdown of the top candidates",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// normalizeTextTool returns the tool definition for normalize_text
func normalizeTextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "normalize_text",
		Description: "Show how a stop name is normalized for matching, with and without generic station words",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Text to normalize",
				},
			},
			Required: []string{"text"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report gazetteer statistics and the search capabilities detected on the store",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"refresh": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-probe store capabilities instead of using the cache",
					"default":     false,
				},
			},
		},
	}
}
