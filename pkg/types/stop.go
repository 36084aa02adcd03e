package types

// StopResult is one ranked stop returned by a search
type StopResult struct {
	// Identification
	ID   string `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"` // Position in result set (1-based)

	// Station grouping
	StationID     string `json:"stationId"` // Parent id, or own id for top-level stops
	StationName   string `json:"stationName"`
	ParentStation string `json:"parentStation,omitempty"`

	// Metadata
	LocationType   int      `json:"locationType"`
	City           string   `json:"city,omitempty"`
	IsParent       bool     `json:"isParent"`
	IsPlatform     bool     `json:"isPlatform"`
	AliasesMatched []string `json:"aliasesMatched,omitempty"` // At most 5
}

// MaxAliasesMatched caps StopResult.AliasesMatched
const MaxAliasesMatched = 5

// Validate checks if the stop result is valid
func (r *StopResult) Validate() error {
	if r.ID == "" {
		return ErrInvalidStopID
	}

	if r.Name == "" {
		return ErrEmptyName
	}

	if r.Rank < 1 {
		return ErrInvalidRank
	}

	if r.StationID == "" {
		return ErrMissingGroup
	}

	return nil
}
