package extraction

import (
	"errors"
	"fmt"
)

// ErrUpstream matches every failure to get a decision from the extraction service
var ErrUpstream = errors.New("extraction service error")

// UpstreamError reports either an error status (StatusCode and Body set) or
// a transport failure (Err set)
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("AI server error: %d - %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("AI server error: %d - %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("AI server error: %v", e.Err)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
