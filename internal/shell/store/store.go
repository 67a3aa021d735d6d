package store

import (
	"context"

	"github.com/tom-sapletta-com/coval/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for deployment history.
type Store interface {
	// Deployment operations
	CreateDeployment(ctx context.Context, rec *domain.DeploymentRecord) error
	GetDeployment(ctx context.Context, iterationID string) (*domain.DeploymentRecord, error)
	UpdateDeployment(ctx context.Context, rec *domain.DeploymentRecord) error
	DeleteDeployment(ctx context.Context, iterationID string) error
	ListDeployments(ctx context.Context, opts ListOptions) ([]domain.DeploymentRecord, error)

	// ListActive returns deployments whose status still holds a container
	// and a host port, oldest first.
	ListActive(ctx context.Context) ([]domain.DeploymentRecord, error)

	// UsedPorts returns the host ports held by active deployments, ascending.
	UsedPorts(ctx context.Context) ([]int, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
