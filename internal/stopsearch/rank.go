package stopsearch

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/dshills/stopsearch/internal/storage"
	"github.com/dshills/stopsearch/internal/textnorm"
	"github.com/dshills/stopsearch/pkg/types"
)

// Score contributions. Only their relative order is tuned; see DESIGN.md.
const (
	tierWeight          = 10000
	similarityWeight    = 1000
	aliasExactBonus     = 600
	aliasPrefixBonus    = 300
	aliasContainsBonus  = 120
	aliasWeightCap      = 3.0
	aliasWeightPoints   = 50
	popularityCap       = 100
	popularityPoints    = 2
	cityBonus           = 150
	cityParentBonus     = 100
	hubBonus            = 400
	hubRequestedBonus   = 150
	postCommaStrong     = 2500
	postCommaPrefix     = 1200
	postCommaMiss       = -800
	commaParentPenalty  = -1500
	shortQueryParent    = 300
	shortQueryMaxLength = 6

	// containmentSlack lets token-containment matches in just below the
	// fuzzy threshold.
	containmentSlack = 0.08
)

// ranker scores candidates against one query. It is not safe for
// concurrent use.
type ranker struct {
	qc       *QueryContext
	tokens   *tokenMatcher
	collator *collate.Collator
}

func newRanker(qc *QueryContext) *ranker {
	return &ranker{
		qc:       qc,
		tokens:   newTokenMatcher(),
		collator: collate.New(language.Und, collate.IgnoreCase),
	}
}

// Rank scores rows against qc, keeps the best row per station group and per
// normalized name, and returns at most limit candidates with 1-based ranks.
// Rank is deterministic: equal inputs give identical output.
func Rank(rows []CandidateRow, qc *QueryContext, limit int) []ScoredCandidate {
	if limit <= 0 || qc == nil || qc.Norm == "" {
		return nil
	}
	r := newRanker(qc)

	groupIndex := make(map[string]int)
	var groups []*ScoredCandidate
	for i := range rows {
		sc, ok := r.score(&rows[i])
		if !ok {
			continue
		}
		if j, seen := groupIndex[sc.Row.GroupID]; seen {
			if r.compare(sc, groups[j]) < 0 {
				groups[j] = sc
			}
			continue
		}
		groupIndex[sc.Row.GroupID] = len(groups)
		groups = append(groups, sc)
	}

	slices.SortFunc(groups, r.compare)

	out := make([]ScoredCandidate, 0, min(limit, len(groups)))
	seenNames := make(map[string]struct{}, len(groups))
	for _, sc := range groups {
		if _, dup := seenNames[sc.NameNorm]; dup {
			continue
		}
		seenNames[sc.NameNorm] = struct{}{}
		sc.Rank = len(out) + 1
		out = append(out, *sc)
		if len(out) == limit {
			break
		}
	}
	return out
}

// compare orders a before b when a ranks higher.
func (r *ranker) compare(a, b *ScoredCandidate) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Tier, a.Tier); c != 0 {
		return c
	}
	if c := cmp.Compare(b.parentPreference, a.parentPreference); c != 0 {
		return c
	}
	if c := cmp.Compare(b.locationRank, a.locationRank); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Row.Popularity, a.Row.Popularity); c != 0 {
		return c
	}
	if c := cmp.Compare(a.nameLength, b.nameLength); c != 0 {
		return c
	}
	if c := r.collator.CompareString(a.Row.Name, b.Row.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Row.ID, b.Row.ID)
}

func (r *ranker) score(row *CandidateRow) (*ScoredCandidate, bool) {
	qc := r.qc
	id := strings.TrimSpace(row.ID)
	name := strings.TrimSpace(row.Name)
	if id == "" || name == "" {
		return nil, false
	}
	nameNorm := textnorm.Normalize(name)
	if nameNorm == "" {
		return nil, false
	}
	coreNorm := textnorm.StripStopWords(nameNorm)
	allTokens := textnorm.Tokens(nameNorm)
	candTokens := textnorm.Tokens(coreNorm)
	if len(candTokens) == 0 {
		candTokens = allTokens
	}
	candHead, candTail := splitComma(name)

	c := &ScoredCandidate{
		Row:        *row,
		NameNorm:   nameNorm,
		CoreNorm:   coreNorm,
		nameLength: utf8.RuneCountInString(name),
	}
	c.Row.ID, c.Row.Name = id, name
	if c.Row.GroupID == "" {
		c.Row.GroupID = storage.GroupID(id, row.ParentStation)
	}
	parentLike := row.IsParentLike || storage.ParentLike(id, row.ParentStation, row.LocationType)
	hub := row.HasHubToken || textnorm.HasHubToken(nameNorm)
	c.Row.IsParentLike, c.Row.HasHubToken = parentLike, hub

	s := &c.Signals
	queryTokens := qc.MatchTokens()
	s.Exact = nameNorm == qc.Norm || (qc.Core != "" && coreNorm == qc.Core)
	s.Prefix = strings.HasPrefix(nameNorm, qc.Norm) ||
		(qc.Core != "" && strings.HasPrefix(coreNorm, qc.Core))
	s.Contains = strings.Contains(nameNorm, qc.Norm) ||
		(qc.Core != "" && strings.Contains(coreNorm, qc.Core))
	s.WordStart = everyToken(queryTokens, candTokens, strings.HasPrefix)
	s.TokenContainment = everyToken(queryTokens, candTokens, strings.Contains)

	aliasSim, aliasWeight := r.matchAliases(c)

	if qc.HasComma {
		s.PostCommaStrong = (candTail != "" && (candTail == qc.Tail ||
			textnorm.StripStopWords(candTail) == textnorm.StripStopWords(qc.Tail))) ||
			everyToken(qc.TailTokens, allTokens, func(a, b string) bool { return a == b })
		s.PostCommaPrefix = (candTail != "" && strings.HasPrefix(candTail, qc.Tail)) ||
			everyToken(qc.TailTokens, allTokens, strings.HasPrefix)
	}
	if qc.CityToken != "" {
		s.CityMatch = candHead == qc.CityToken ||
			(row.City != "" && textnorm.Normalize(row.City) == qc.CityToken) ||
			allTokens[0] == qc.CityToken
	}

	sim := max(
		editRatio(qc.Norm, nameNorm),
		r.tokens.bestTokenRatio(queryTokens, candTokens),
		row.NameSimilarity,
		row.CoreSimilarity,
		aliasSim,
	)
	if qc.Core != "" && coreNorm != "" {
		sim = max(sim, editRatio(qc.Core, coreNorm))
	}
	c.Similarity = min(sim, 1)
	s.FuzzyAccepted = c.Similarity >= qc.FuzzyThreshold

	switch {
	case s.Exact || s.AliasExact:
		c.Tier = TierExact
	case s.Prefix || s.AliasPrefix:
		c.Tier = TierPrefix
	case s.Contains || s.AliasContains || s.WordStart:
		c.Tier = TierContains
	case s.FuzzyAccepted || (s.TokenContainment && c.Similarity >= qc.FuzzyThreshold-containmentSlack):
		c.Tier = TierFuzzy
	default:
		return nil, false
	}

	c.add("tier", c.Tier*tierWeight)
	c.add("similarity", int(math.Round(c.Similarity*similarityWeight)))
	switch {
	case s.AliasExact:
		c.add("alias_exact", aliasExactBonus)
	case s.AliasPrefix:
		c.add("alias_prefix", aliasPrefixBonus)
	case s.AliasContains:
		c.add("alias_contains", aliasContainsBonus)
	}
	if len(c.Matched) > 0 {
		c.add("alias_weight", int(math.Round(min(aliasWeight, aliasWeightCap)*aliasWeightPoints)))
	}
	c.add("popularity", min(max(row.Popularity, 0), popularityCap)*popularityPoints)
	if s.CityMatch {
		c.add("city", cityBonus)
		if parentLike {
			c.add("city_parent", cityParentBonus)
		}
	}
	if hub {
		if qc.WantsHub {
			c.add("hub", hubRequestedBonus)
		} else {
			c.add("hub", hubBonus)
		}
	}
	if qc.HasComma {
		switch {
		case s.PostCommaStrong:
			c.add("post_comma_strong", postCommaStrong)
		case s.PostCommaPrefix:
			c.add("post_comma_prefix", postCommaPrefix)
		default:
			c.add("post_comma_miss", postCommaMiss)
		}
		if parentLike {
			c.add("comma_parent", commaParentPenalty)
		}
	} else if parentLike && qc.Length() <= shortQueryMaxLength {
		c.add("short_query_parent", shortQueryParent)
	}

	switch {
	case qc.HasComma && !parentLike, !qc.HasComma && parentLike:
		c.parentPreference = 1
	}
	switch row.LocationType {
	case 1:
		c.locationRank = 2
	case 0:
		c.locationRank = 1
	}
	return c, true
}

// matchAliases records alias signals and matched aliases on c, returning
// the best alias similarity and weight among the matches.
func (r *ranker) matchAliases(c *ScoredCandidate) (bestSim, bestWeight float64) {
	qc := r.qc
	s := &c.Signals
	seen := make(map[string]struct{}, len(c.Row.Aliases))
	for _, a := range c.Row.Aliases {
		text := a.Text
		if text == "" {
			text = a.Norm
		}
		an := textnorm.Normalize(text)
		if an == "" {
			continue
		}
		matched := true
		switch {
		case an == qc.Norm:
			s.AliasExact = true
		case strings.HasPrefix(an, qc.Norm):
			s.AliasPrefix = true
		case strings.Contains(an, qc.Norm):
			s.AliasContains = true
		default:
			matched = false
		}
		sim := max(a.Similarity, editRatio(qc.Norm, an))
		if !matched && sim < qc.FuzzyThreshold {
			continue
		}
		bestSim = max(bestSim, sim)
		bestWeight = max(bestWeight, a.Weight)
		if _, dup := seen[an]; dup {
			continue
		}
		seen[an] = struct{}{}
		m := a
		m.Text, m.Norm, m.Similarity = text, an, sim
		c.Matched = append(c.Matched, m)
	}
	slices.SortStableFunc(c.Matched, func(a, b AliasMatch) int {
		if d := cmp.Compare(b.Weight, a.Weight); d != 0 {
			return d
		}
		if d := cmp.Compare(b.Similarity, a.Similarity); d != 0 {
			return d
		}
		return cmp.Compare(a.Text, b.Text)
	})
	return bestSim, bestWeight
}

// everyToken reports whether each query token relates to some candidate
// token by match. It is false for an empty query token list.
func everyToken(query, cand []string, match func(c, q string) bool) bool {
	if len(query) == 0 {
		return false
	}
	for _, q := range query {
		found := false
		for _, c := range cand {
			if match(c, q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Result converts a ranked candidate to its public form.
func (c *ScoredCandidate) Result() types.StopResult {
	row := c.Row
	stationName := row.Name
	if !row.IsParentLike && row.ParentName != "" {
		stationName = row.ParentName
	}
	res := types.StopResult{
		ID:            row.ID,
		Name:          row.Name,
		Rank:          c.Rank,
		StationID:     row.GroupID,
		StationName:   stationName,
		ParentStation: row.ParentStation,
		LocationType:  row.LocationType,
		City:          row.City,
		IsParent:      row.IsParentLike,
		IsPlatform:    !row.IsParentLike && (row.LocationType == 0 || row.LocationType == 4 || row.PlatformCode != ""),
	}
	for _, m := range c.Matched {
		if len(res.AliasesMatched) == types.MaxAliasesMatched {
			break
		}
		res.AliasesMatched = append(res.AliasesMatched, m.Text)
	}
	return res
}

// Results converts ranked candidates to their public form.
func Results(scored []ScoredCandidate) []types.StopResult {
	out := make([]types.StopResult, len(scored))
	for i := range scored {
		out[i] = scored[i].Result()
	}
	return out
}
