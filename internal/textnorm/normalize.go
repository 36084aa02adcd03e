package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// HubToken is the canonical token every spelling of "main station" folds to.
const HubToken = "hb"

// SaintToken is the canonical token for "st" and "saint".
const SaintToken = "saint"

// separators are collapsed to spaces before the generic punctuation pass
// so that "Bel-Air" and "Bel_Air" become two tokens rather than one.
const separators = "-_./'’"

// abbreviations maps whole-word spellings to their canonical token.
var abbreviations = map[string]string{
	"st":           SaintToken,
	"saint":        SaintToken,
	"hauptbahnhof": HubToken,
	"hbf":          HubToken,
	"hb":           HubToken,
}

// stopWords are generic station words removed to form the core of a name.
var stopWords = map[string]struct{}{
	"gare":         {},
	"bahnhof":      {},
	"station":      {},
	"stazione":     {},
	"bahnhofplatz": {},
}

// Normalize canonicalizes a stop name or query for matching.
//
// The result is lowercase, accent-free, contains only letters, digits and
// single spaces, and has the saint and main-station abbreviation classes
// folded to SaintToken and HubToken. Normalize is idempotent and does not
// depend on the process locale.
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return ""
	}
	s = FoldAccents(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case strings.ContainsRune(separators, r):
			b.WriteByte(' ')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	for i, tok := range tokens {
		if canonical, ok := abbreviations[tok]; ok {
			tokens[i] = canonical
		}
	}
	return strings.Join(tokens, " ")
}

// StripStopWords removes generic station words from an already normalized
// string. It returns "" when every token is a stop word.
func StripStopWords(normalized string) string {
	tokens := strings.Fields(normalized)
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, ok := stopWords[tok]; ok {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// FoldAccents removes combining diacritical marks without changing case.
func FoldAccents(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

// Tokens splits a normalized string into its tokens.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}

// HasHubToken reports whether a normalized string contains HubToken.
func HasHubToken(normalized string) bool {
	for _, tok := range strings.Fields(normalized) {
		if tok == HubToken {
			return true
		}
	}
	return false
}

// IsStopWord reports whether tok is one of the generic station words.
func IsStopWord(tok string) bool {
	_, ok := stopWords[tok]
	return ok
}
