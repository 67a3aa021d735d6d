package domain

import (
	"errors"
	"time"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingIteration  = errors.New("iteration id is required")
)

// =============================================================================
// Deployment Status
// =============================================================================

type DeploymentStatus string

const (
	StatusPending   DeploymentStatus = "pending"
	StatusComposing DeploymentStatus = "composing"
	StatusBuilding  DeploymentStatus = "building"
	StatusStarting  DeploymentStatus = "starting"
	StatusRunning   DeploymentStatus = "running"
	StatusUnhealthy DeploymentStatus = "unhealthy"
	StatusStopped   DeploymentStatus = "stopped"
	StatusFailed    DeploymentStatus = "failed"
)

// ActiveStatuses are the statuses of deployments that hold a container and a
// host port. Stopped and failed deployments release both.
func ActiveStatuses() []DeploymentStatus {
	return []DeploymentStatus{
		StatusPending, StatusComposing, StatusBuilding,
		StatusStarting, StatusRunning, StatusUnhealthy,
	}
}

// IsActive reports whether the status still holds a container and a port.
func (s DeploymentStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusComposing, StatusBuilding, StatusStarting, StatusRunning, StatusUnhealthy:
		return true
	default:
		return false
	}
}

// Resumable reports whether a persisted deployment in this status should be
// re-activated after a daemon restart. Only deployments that were running or
// still starting are picked up; everything else stays history.
func (s DeploymentStatus) Resumable() bool {
	return s == StatusRunning || s == StatusStarting
}

// =============================================================================
// Iteration Reference
// =============================================================================

// IterationRef identifies one code iteration and its ancestor chain.
// Ancestors are ordered oldest to newest; the referenced iteration itself is
// always the newest layer and wins every file conflict.
type IterationRef struct {
	ID        string   `json:"id"`
	Ancestors []string `json:"ancestors,omitempty"`
}

// Validate checks that the reference can be deployed.
func (r IterationRef) Validate() error {
	if r.ID == "" {
		return ErrMissingIteration
	}
	return nil
}

// =============================================================================
// Deployment Record
// =============================================================================

// DeploymentRecord is the durable record of one deployed iteration.
// The orchestrator creates it when a deployment attempt begins, updates it on
// every status change, and keeps it as history after stop or failure.
type DeploymentRecord struct {
	IterationID   string           `json:"iteration_id"`
	ContainerName string           `json:"container_name"`
	ContainerID   string           `json:"container_id,omitempty"`
	ImageTag      string           `json:"image_tag"`
	HostPort      int              `json:"host_port"`
	Status        DeploymentStatus `json:"status"`
	Health        HealthStatus     `json:"health"`
	Error         string           `json:"error,omitempty"`
	LogsPath      string           `json:"logs_path,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	StoppedAt     *time.Time       `json:"stopped_at,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewDeploymentRecord creates a pending record for a fresh deployment attempt.
func NewDeploymentRecord(iterationID, containerName, imageTag string, hostPort int) *DeploymentRecord {
	now := time.Now().UTC()
	return &DeploymentRecord{
		IterationID:   iterationID,
		ContainerName: containerName,
		ImageTag:      imageTag,
		HostPort:      hostPort,
		Status:        StatusPending,
		Health:        HealthStatusUnknown,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Transition attempts to move the record to a new status.
func (d *DeploymentRecord) Transition(to DeploymentStatus) error {
	if err := ValidateTransition(d.Status, to); err != nil {
		return err
	}

	d.Status = to
	d.UpdatedAt = time.Now().UTC()

	// The container is up once we reach starting; the health gate only
	// decides whether we call the deployment running or unhealthy.
	if to == StatusStarting {
		now := time.Now().UTC()
		d.StartedAt = &now
	}
	if to == StatusStopped {
		now := time.Now().UTC()
		d.StoppedAt = &now
	}

	return nil
}

// TransitionToFailed moves the record to failed with the first error message.
// Fail-fast: allowed from every non-terminal status.
func (d *DeploymentRecord) TransitionToFailed(errorMessage string) error {
	switch d.Status {
	case StatusStopped, StatusFailed:
		return ErrInvalidTransition
	}
	d.Status = StatusFailed
	d.Error = errorMessage
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions. Failure is handled
// by TransitionToFailed and therefore only terminal edges appear here.
var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusPending:   {StatusComposing},
	StatusComposing: {StatusBuilding},
	StatusBuilding:  {StatusStarting},
	StatusStarting:  {StatusRunning, StatusUnhealthy},
	StatusRunning:   {StatusStopped, StatusUnhealthy},
	StatusUnhealthy: {StatusStopped},
	StatusStopped:   {}, // Terminal state
	StatusFailed:    {}, // Terminal state
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to DeploymentStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}
