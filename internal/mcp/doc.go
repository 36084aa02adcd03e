// Package mcp exposes stop search as a Model Context Protocol (MCP) server.
//
// The server offers three tools:
//   - search_stops: rank gazetteer stops for a user-typed name
//   - normalize_text: show the normalized and core forms of a text
//   - get_status: report store capabilities and gazetteer statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started by the serve command:
//
//	stopsearch serve
//
// # Tool: search_stops
//
//	Request:
//	{
//	  "name": "search_stops",
//	  "arguments": {"query": "zurich hb", "limit": 5, "debug": false}
//	}
//
//	Response:
//	{
//	  "query": "zurich hb",
//	  "count": 1,
//	  "stops": [
//	    {"id": "Parent8503000", "name": "Zürich HB", "rank": 1, "stationId": "Parent8503000", ...}
//	  ]
//	}
//
// Queries shorter than two normalized characters return an empty list.
// A missing or blank query fails with ErrorCodeEmptyQuery and a limit
// outside 1..100 with ErrorCodeInvalidParams.
//
// # Tool: normalize_text
//
//	{"text": "Genève, Gare Cornavin"} → {"normalized": "geneve gare cornavin", "core": "geneve cornavin"}
//
// # Tool: get_status
//
// Reports the detected capability set, the strategy searches will use and,
// when the store supports it, row counts per gazetteer table. Pass
// "refresh": true to re-probe capabilities.
//
// # Error Codes
//
//	-32602  Invalid parameters
//	-32603  Internal error
//	-32001  Every retrieval strategy failed
//	-32002  No gazetteer configured
//	-32004  Empty query
package mcp
