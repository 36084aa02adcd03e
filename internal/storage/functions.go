package storage

import (
	"fmt"

	"github.com/dshills/stopsearch/internal/textnorm"
)

// Scalar SQL functions registered on every SQLite connection. They mirror
// the stored functions a Postgres gazetteer provides (pg_trgm similarity,
// the unaccent extension and the stop_norm/stop_strip helpers), so the
// search engine can run its full strategy against either backend.
const (
	FuncNormalize  = "stop_norm"
	FuncStrip      = "stop_strip"
	FuncUnaccent   = "unaccent"
	FuncSimilarity = "similarity"
)

var unaryFunctions = map[string]func(string) string{
	FuncNormalize: textnorm.Normalize,
	FuncStrip:     textnorm.StripStopWords,
	FuncUnaccent:  textnorm.FoldAccents,
}

var binaryFunctions = map[string]func(string, string) float64{
	FuncSimilarity: textnorm.Similarity,
}

// textArg converts a SQLite function argument to text; NULL becomes "".
func textArg(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
