package overlay

import (
	"errors"
	"fmt"
)

// Sentinel errors for composition failures.
var (
	// ErrSourceMissing indicates the current iteration tree does not exist.
	ErrSourceMissing = errors.New("source tree missing")

	// ErrUnknownStrategy indicates an unrecognized strategy name in config.
	ErrUnknownStrategy = errors.New("unknown overlay strategy")
)

// OverlayError provides context about a failed composition.
type OverlayError struct {
	Op      string // Operation that failed
	Path    string // Path involved, if any
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *OverlayError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *OverlayError) Unwrap() error {
	return e.Err
}

// NewOverlayError creates a new OverlayError.
func NewOverlayError(op, path, message string, err error) *OverlayError {
	return &OverlayError{
		Op:      op,
		Path:    path,
		Message: message,
		Err:     err,
	}
}
