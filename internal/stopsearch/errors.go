package stopsearch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLimit is returned for a negative result limit.
	ErrInvalidLimit = errors.New("limit must not be negative")
	// ErrNoStore is returned when the engine has no store.
	ErrNoStore = errors.New("no store configured")
)

// RetrievalError reports that the fallback cascade failed and no stage
// produced rows. Primary holds the earlier primary-stage error, if any.
type RetrievalError struct {
	Fallback error
	Primary  error
}

func (e *RetrievalError) Error() string {
	if e.Primary != nil {
		return fmt.Sprintf("stop retrieval failed: %v (primary: %v)", e.Fallback, e.Primary)
	}
	return fmt.Sprintf("stop retrieval failed: %v", e.Fallback)
}

// Unwrap exposes both causes to errors.Is and errors.As.
func (e *RetrievalError) Unwrap() []error {
	if e.Primary != nil {
		return []error{e.Fallback, e.Primary}
	}
	return []error{e.Fallback}
}
