package types

import "errors"

// Domain errors for type validation
var (
	// Search request errors
	ErrEmptyQuery = errors.New("query cannot be empty")

	// Stop result errors
	ErrInvalidStopID = errors.New("invalid stop ID")
	ErrInvalidRank   = errors.New("rank must be >= 1")
	ErrEmptyName     = errors.New("stop name cannot be empty")
	ErrMissingGroup  = errors.New("station id is required")
)
