// Package deployer orchestrates iteration deployments: port resolution,
// source composition, image build, container start, health gating and
// persistence, in one fail-fast pipeline per request.
package deployer

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrIterationNotFound is returned when the iteration source directory
	// does not exist under the iterations root.
	ErrIterationNotFound = errors.New("iteration source not found")

	// ErrNotStoppable is returned when a stop request targets a deployment
	// whose status does not accept one.
	ErrNotStoppable = errors.New("deployment cannot be stopped")

	// ErrDeploymentInProgress is returned when a deploy request targets an
	// iteration whose previous attempt is still mid-pipeline.
	ErrDeploymentInProgress = errors.New("deployment already in progress")
)

// DeployError wraps errors with deployment context.
type DeployError struct {
	Op        string // Operation that failed (e.g., "Deploy")
	Iteration string // Iteration ID if applicable
	Message   string
	Err       error
}

func (e *DeployError) Error() string {
	if e.Iteration != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Iteration, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DeployError) Unwrap() error {
	return e.Err
}

// NewDeployError creates a new DeployError.
func NewDeployError(op, iteration, message string, err error) *DeployError {
	return &DeployError{
		Op:        op,
		Iteration: iteration,
		Message:   message,
		Err:       err,
	}
}
