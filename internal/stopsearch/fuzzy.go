package stopsearch

import (
	"strconv"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// tokenMemoSize bounds the per-call memo of token edit ratios.
const tokenMemoSize = 4096

// minFuzzyToken is the shortest token compared pairwise; shorter tokens
// ("hb", "de") would match too much at edit distance one.
const minFuzzyToken = 3

// maxEditDistance is the largest edit distance accepted for a string of n
// runes.
func maxEditDistance(n int) int {
	if n <= 4 {
		return 1
	}
	return 2
}

// boundedLevenshtein returns the optimal-string-alignment distance of a and
// b (an adjacent transposition costs one edit), or limit+1 as soon as it is
// known to exceed limit.
func boundedLevenshtein(a, b []rune, limit int) int {
	if d := len(a) - len(b); d > limit || -d > limit {
		return limit + 1
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev2 := make([]int, len(b)+1)
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && a[i-1] == b[j-2] && a[i-2] == b[j-1] {
				curr[j] = min(curr[j], prev2[j-2]+1)
			}
			rowMin = min(rowMin, curr[j])
		}
		// A transposition never undercuts the previous row's minimum.
		if rowMin > limit {
			return limit + 1
		}
		prev2, prev, curr = prev, curr, prev2
	}
	return prev[len(b)]
}

// editRatio is 1 - distance/longer length, or 0 when the distance exceeds
// the bound for a's length.
func editRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	limit := maxEditDistance(len(ra))
	d := boundedLevenshtein(ra, rb, limit)
	if d > limit {
		return 0
	}
	return 1 - float64(d)/float64(max(len(ra), len(rb)))
}

// tokenMatcher memoizes token edit ratios for the lifetime of one rank call.
type tokenMatcher struct {
	memo *lru.Cache[string, float64]
}

func newTokenMatcher() *tokenMatcher {
	memo, err := lru.New[string, float64](tokenMemoSize)
	if err != nil {
		panic("stopsearch: token memo: " + err.Error())
	}
	return &tokenMatcher{memo: memo}
}

func (m *tokenMatcher) ratio(q, c string) float64 {
	key := strconv.Itoa(len(q)) + ":" + q + c
	if v, ok := m.memo.Get(key); ok {
		return v
	}
	v := editRatio(q, c)
	m.memo.Add(key, v)
	return v
}

// bestTokenRatio returns the best edit ratio over all query/candidate token
// pairs, ignoring tokens shorter than minFuzzyToken.
func (m *tokenMatcher) bestTokenRatio(queryTokens, candTokens []string) float64 {
	best := 0.0
	for _, q := range queryTokens {
		if utf8.RuneCountInString(q) < minFuzzyToken {
			continue
		}
		for _, c := range candTokens {
			if utf8.RuneCountInString(c) < minFuzzyToken {
				continue
			}
			if r := m.ratio(q, c); r > best {
				best = r
			}
		}
	}
	return best
}
