package stopsearch

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/stopsearch/internal/textnorm"
)

// MinQueryLen is the shortest normalized query that reaches the store.
const MinQueryLen = 2

// QueryContext holds everything derived from the raw query once per call.
type QueryContext struct {
	Raw        string   `json:"raw"`
	Norm       string   `json:"norm"`
	Core       string   `json:"core"`
	Tokens     []string `json:"tokens"`
	CoreTokens []string `json:"coreTokens"`

	// HasComma is set when the raw query splits into a non-empty head and
	// tail around its first comma ("Lausanne, Bel-Air").
	HasComma   bool     `json:"hasComma"`
	Head       string   `json:"head,omitempty"`
	Tail       string   `json:"tail,omitempty"`
	HeadTokens []string `json:"headTokens,omitempty"`
	TailTokens []string `json:"tailTokens,omitempty"`

	CityToken      string  `json:"cityToken,omitempty"`
	FuzzyThreshold float64 `json:"fuzzyThreshold"`
	WantsHub       bool    `json:"wantsHub"`
}

// NewQueryContext derives a QueryContext from a raw query.
func NewQueryContext(raw string) QueryContext {
	norm := textnorm.Normalize(raw)
	core := textnorm.StripStopWords(norm)
	qc := QueryContext{
		Raw:            raw,
		Norm:           norm,
		Core:           core,
		Tokens:         textnorm.Tokens(norm),
		CoreTokens:     textnorm.Tokens(core),
		FuzzyThreshold: FuzzyThreshold(utf8.RuneCountInString(norm)),
		WantsHub:       textnorm.HasHubToken(norm),
	}

	head, tail := splitComma(raw)
	if head != "" && tail != "" {
		qc.HasComma = true
		qc.Head = head
		qc.Tail = tail
		qc.HeadTokens = textnorm.Tokens(head)
		qc.TailTokens = textnorm.Tokens(tail)
		qc.CityToken = head
	} else if len(qc.Tokens) > 0 {
		qc.CityToken = qc.Tokens[0]
	}
	return qc
}

// Length returns the normalized query length in runes.
func (qc *QueryContext) Length() int {
	return utf8.RuneCountInString(qc.Norm)
}

// MatchTokens are the tokens compared against candidate tokens: the core
// tokens when the query has any, otherwise all tokens.
func (qc *QueryContext) MatchTokens() []string {
	if len(qc.CoreTokens) > 0 {
		return qc.CoreTokens
	}
	return qc.Tokens
}

// FuzzyThreshold returns the least similarity a fuzzy match must reach for
// a normalized query of n runes.
func FuzzyThreshold(n int) float64 {
	switch {
	case n <= 4:
		return 0.72
	case n <= 6:
		return 0.62
	case n <= 8:
		return 0.52
	default:
		return 0.44
	}
}

// splitComma normalizes the text before and after the first comma.
func splitComma(raw string) (head, tail string) {
	before, after, ok := strings.Cut(raw, ",")
	if !ok {
		return textnorm.Normalize(raw), ""
	}
	return textnorm.Normalize(before), textnorm.Normalize(after)
}

// shortenQuery drops the last rune of the trimmed query.
func shortenQuery(raw string) string {
	s := strings.TrimSpace(raw)
	_, size := utf8.DecodeLastRuneInString(s)
	return strings.TrimSpace(s[:len(s)-size])
}
