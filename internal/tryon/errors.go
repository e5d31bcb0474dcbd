package tryon

import (
	"errors"
	"fmt"
)

// User-facing failure classes. Callers match them with errors.Is.
var (
	ErrInvalidImageFormat = errors.New("invalid image format")
	ErrConflictingInput   = errors.New("conflicting garment input")
	ErrMissingGarment     = errors.New("missing garment input")
	ErrNoCandidatesFound  = errors.New("no suitable clothing images found")
	ErrSourceBlocked      = errors.New("source blocked the request")
	ErrSourceUnreachable  = errors.New("source unreachable")
	ErrCompositionFailed  = errors.New("composition failed")
	ErrSessionNotFound    = errors.New("session not found")
)

// FetchCategory classifies a failed fetch for logging and metrics.
type FetchCategory string

// Fetch failure categories.
const (
	FetchBlocked        FetchCategory = "blocked"
	FetchTimeout        FetchCategory = "timeout"
	FetchNotFound       FetchCategory = "not_found"
	FetchTransportError FetchCategory = "transport_error"
)

// FetchError describes a page or image fetch that did not produce a 2xx body.
type FetchError struct {
	Category   FetchCategory
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Category, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is maps blocked fetches to ErrSourceBlocked and everything else to ErrSourceUnreachable.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrSourceBlocked:
		return e.Category == FetchBlocked
	case ErrSourceUnreachable:
		return e.Category != FetchBlocked
	default:
		return false
	}
}

// ImageError reports which client-supplied image failed validation.
type ImageError struct {
	// Field is "person" or "clothing".
	Field string
	Err   error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("invalid %s image: %v", e.Field, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}
