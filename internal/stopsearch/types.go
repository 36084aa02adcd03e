package stopsearch

// Match tiers, best first.
const (
	TierRejected = 0
	TierFuzzy    = 1
	TierContains = 2
	TierPrefix   = 3
	TierExact    = 4
)

// Alias sources.
const (
	SourceAlias    = "alias"
	SourceAppAlias = "app_alias"
)

// AliasMatch is an alias row that matched the query during retrieval.
type AliasMatch struct {
	Text       string  `json:"text"`
	Norm       string  `json:"norm,omitempty"`
	Weight     float64 `json:"weight"`
	Similarity float64 `json:"similarity,omitempty"`
	Source     string  `json:"source"`
}

// CandidateRow is a stop as seen by the retriever, before scoring.
// Rows without an id or name are discarded by the ranker.
type CandidateRow struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	ParentStation string       `json:"parentStation,omitempty"`
	ParentName    string       `json:"parentName,omitempty"`
	GroupID       string       `json:"groupId,omitempty"`
	LocationType  int          `json:"locationType"`
	PlatformCode  string       `json:"platformCode,omitempty"`
	City          string       `json:"city,omitempty"`
	Popularity    int          `json:"popularity,omitempty"`
	Aliases       []AliasMatch `json:"aliases,omitempty"`

	// Similarities computed by the store, 0 when unavailable.
	NameSimilarity float64 `json:"nameSimilarity,omitempty"`
	CoreSimilarity float64 `json:"coreSimilarity,omitempty"`

	IsParentLike bool `json:"isParentLike"`
	HasHubToken  bool `json:"hasHubToken"`
}

// Signals are the boolean match features computed for one candidate.
type Signals struct {
	Exact            bool `json:"exact,omitempty"`
	AliasExact       bool `json:"aliasExact,omitempty"`
	Prefix           bool `json:"prefix,omitempty"`
	AliasPrefix      bool `json:"aliasPrefix,omitempty"`
	Contains         bool `json:"contains,omitempty"`
	AliasContains    bool `json:"aliasContains,omitempty"`
	WordStart        bool `json:"wordStart,omitempty"`
	TokenContainment bool `json:"tokenContainment,omitempty"`
	PostCommaStrong  bool `json:"postCommaStrong,omitempty"`
	PostCommaPrefix  bool `json:"postCommaPrefix,omitempty"`
	CityMatch        bool `json:"cityMatch,omitempty"`
	FuzzyAccepted    bool `json:"fuzzyAccepted,omitempty"`
}

// ScoreComponent is one named contribution to a candidate's score.
type ScoreComponent struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// ScoredCandidate is a CandidateRow with its score, tier and tie-break keys.
type ScoredCandidate struct {
	Row        CandidateRow     `json:"row"`
	NameNorm   string           `json:"nameNorm"`
	CoreNorm   string           `json:"coreNorm"`
	Tier       int              `json:"tier"`
	Score      int              `json:"score"`
	Similarity float64          `json:"similarity"`
	Signals    Signals          `json:"signals"`
	Breakdown  []ScoreComponent `json:"breakdown,omitempty"`
	Matched    []AliasMatch     `json:"matchedAliases,omitempty"`
	Rank       int              `json:"rank"`

	parentPreference int
	locationRank     int
	nameLength       int
}

func (c *ScoredCandidate) add(name string, points int) {
	if points == 0 {
		return
	}
	c.Score += points
	c.Breakdown = append(c.Breakdown, ScoreComponent{Name: name, Points: points})
}
