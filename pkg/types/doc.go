// Package types provides the public result types of the stop search engine.
//
// StopResult is what every search surface returns (library calls, the CLI
// and the MCP tools), so its JSON field names are part of the contract:
//
//	{
//	  "id": "Parent8503000",
//	  "name": "Zürich HB",
//	  "rank": 1,
//	  "stationId": "Parent8503000",
//	  "stationName": "Zürich HB",
//	  "locationType": 1,
//	  "isParent": true,
//	  "isPlatform": false
//	}
package types
