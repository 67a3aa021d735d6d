// Package docker provides the Docker engine client and the container
// lifecycle manager for deployed iterations.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
// Immutable once handed to the lifecycle manager.
type ContainerSpec struct {
	Name          string
	Image         string
	Command       []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortBinding
	Volumes       []VolumeMount
	NetworkName   string
	RestartPolicy string // "no", "always", "on-failure", "unless-stopped"
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp", defaults to tcp
	HostIP        string // "" for 0.0.0.0
}

// VolumeMount defines a bind mount into the container.
type VolumeMount struct {
	Source   string // Host path
	Target   string // Container path
	ReadOnly bool
}

// =============================================================================
// Lifecycle States
// =============================================================================

// ContainerState is the lifecycle manager's view of a managed container.
type ContainerState string

const (
	StateCreating ContainerState = "creating"
	StateCreated  ContainerState = "created"
	StateRunning  ContainerState = "running"
	StateStopped  ContainerState = "stopped"
	StateRemoved  ContainerState = "removed"
	StateFailed   ContainerState = "failed"
)

// ContainerRecord tracks one managed container by name.
type ContainerRecord struct {
	ID        string
	Name      string
	State     ContainerState
	CreatedAt time.Time
	StartedAt *time.Time
	StoppedAt *time.Time
	ExitCode  int
	Error     string
}

// =============================================================================
// Engine Views
// =============================================================================

// ContainerInfo is the engine's view of a container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	State      string // "running", "exited", "created", ...
	Health     string // "healthy", "unhealthy", "starting", ""
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Ports      []PortBinding
	Labels     map[string]string
	ExitCode   int
}

// NetworkSpec defines the specification for creating a network.
type NetworkSpec struct {
	Name   string
	Driver string // defaults to "bridge"
	Labels map[string]string
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g., {"label": "com.coval.iteration=iter-003"}
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Tail       string // "all" or number
	Timestamps bool
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the engine operations the lifecycle manager and the deployer
// need. Every call carries a context; nothing blocks past its deadline.
type Client interface {
	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, ref string) error
	StopContainer(ctx context.Context, ref string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, ref string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, ref string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	ContainerLogs(ctx context.Context, ref string, opts LogOptions) (io.ReadCloser, error)

	// Image operations
	BuildImage(ctx context.Context, contextDir, tag string) error
	RemoveImage(ctx context.Context, tag string) error

	// Network operations
	CreateNetwork(ctx context.Context, spec NetworkSpec) (networkID string, err error)

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}
