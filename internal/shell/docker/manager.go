package docker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	coredeployment "github.com/tom-sapletta-com/coval/internal/core/deployment"
)

// =============================================================================
// Container Lifecycle Manager
// =============================================================================

// DefaultNetworkName is the bridge network deployed iterations attach to.
const DefaultNetworkName = "coval-network"

// defaultStopTimeout bounds the graceful stop before removal escalates.
const defaultStopTimeout = 10 * time.Second

// Manager owns the lifecycle of iteration containers. It keeps a record per
// container name, guarded by a RWMutex, and reconciles those records against
// the engine on demand.
//
// Lifecycle methods never panic and never return engine errors: failures are
// logged and surfaced through the record state or a boolean result, so a
// broken engine call can degrade a deployment but not crash the daemon.
type Manager struct {
	client Client
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]*ContainerRecord // keyed by container name
}

// NewManager creates a lifecycle manager on top of an engine client.
func NewManager(client Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:  client,
		logger:  logger,
		records: make(map[string]*ContainerRecord),
	}
}

// =============================================================================
// Create
// =============================================================================

// Create creates a container from spec. Any same-named container left over
// from an earlier run is stopped and force-removed first ("not found" counts
// as already clean). On engine failure the returned record is in the failed
// state with the engine message attached; no error is returned.
func (m *Manager) Create(ctx context.Context, spec ContainerSpec) ContainerRecord {
	m.logger.Info("creating container", "container", spec.Name, "image", spec.Image)

	m.forceCleanup(ctx, spec.Name)

	rec := &ContainerRecord{
		Name:      spec.Name,
		State:     StateCreating,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.records[spec.Name] = rec
	m.mu.Unlock()

	id, err := m.client.CreateContainer(ctx, spec)
	if err != nil {
		m.logger.Error("container create failed", "container", spec.Name, "error", err)
		m.updateRecord(spec.Name, func(r *ContainerRecord) {
			r.State = StateFailed
			r.Error = err.Error()
		})
		snap, _ := m.snapshot(spec.Name)
		return snap
	}

	m.logger.Debug("created container", "container", spec.Name, "container_id", shortID(id))
	m.updateRecord(spec.Name, func(r *ContainerRecord) {
		r.ID = id
		r.State = StateCreated
	})
	snap, _ := m.snapshot(spec.Name)
	return snap
}

// forceCleanup stops and removes any existing container with the given name.
// All errors except real engine failures are swallowed: a missing container
// is the desired end state.
func (m *Manager) forceCleanup(ctx context.Context, name string) {
	timeout := defaultStopTimeout
	if err := m.client.StopContainer(ctx, name, &timeout); err != nil {
		if !errors.Is(err, ErrContainerNotFound) && !errors.Is(err, ErrContainerNotRunning) {
			m.logger.Debug("pre-create stop failed", "container", name, "error", err)
		}
	}
	if err := m.client.RemoveContainer(ctx, name, RemoveOptions{Force: true}); err != nil {
		if !errors.Is(err, ErrContainerNotFound) {
			m.logger.Warn("pre-create remove failed", "container", name, "error", err)
		}
	}
}

// =============================================================================
// Start / Stop / Remove
// =============================================================================

// Start starts a created or stopped container. Returns false when the
// container is missing or the engine refuses; an already-running container
// counts as started.
func (m *Manager) Start(ctx context.Context, name string) bool {
	ref := m.refFor(name)
	if err := m.client.StartContainer(ctx, ref); err != nil {
		switch {
		case errors.Is(err, ErrContainerAlreadyRunning):
			m.markRunning(name)
			return true
		case errors.Is(err, ErrContainerNotFound):
			m.logger.Warn("container missing on start", "container", name)
			m.markRemoved(name)
			return false
		default:
			m.logger.Error("container start failed", "container", name, "error", err)
			return false
		}
	}

	m.logger.Debug("started container", "container", name)
	m.markRunning(name)
	return true
}

// Stop gracefully stops a container, waiting up to timeout before the engine
// kills it. Idempotent: a missing or already-stopped container returns true.
func (m *Manager) Stop(ctx context.Context, name string, timeout time.Duration) bool {
	ref := m.refFor(name)
	if err := m.client.StopContainer(ctx, ref, &timeout); err != nil {
		switch {
		case errors.Is(err, ErrContainerNotFound):
			m.markRemoved(name)
			return true
		case errors.Is(err, ErrContainerNotRunning):
			m.markStopped(name)
			return true
		default:
			m.logger.Error("container stop failed", "container", name, "error", err)
			return false
		}
	}

	m.logger.Debug("stopped container", "container", name)
	m.markStopped(name)
	return true
}

// Remove removes a container. Idempotent: a missing container returns true.
func (m *Manager) Remove(ctx context.Context, name string, force bool) bool {
	ref := m.refFor(name)
	if err := m.client.RemoveContainer(ctx, ref, RemoveOptions{Force: force}); err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			m.markRemoved(name)
			return true
		}
		m.logger.Error("container remove failed", "container", name, "force", force, "error", err)
		return false
	}

	m.logger.Debug("removed container", "container", name, "force", force)
	m.markRemoved(name)
	return true
}

// StopAndRemove is the teardown path: graceful stop, then remove, escalating
// to forced removal when the graceful remove fails. The stop result is
// ignored; removal decides the outcome.
func (m *Manager) StopAndRemove(ctx context.Context, name string, timeout time.Duration) bool {
	m.Stop(ctx, name, timeout)

	if m.Remove(ctx, name, false) {
		return true
	}
	m.logger.Warn("graceful remove failed, forcing", "container", name)
	return m.Remove(ctx, name, true)
}

// =============================================================================
// Status
// =============================================================================

// Status reports the current state of a container, merging the managed record
// with a live engine inspect. A live "not found" downgrades the record to
// removed; a live container nobody tracked gets a synthesized record. Returns
// false only when the container is neither tracked nor known to the engine.
func (m *Manager) Status(ctx context.Context, name string) (ContainerRecord, bool) {
	ref := m.refFor(name)
	info, err := m.client.InspectContainer(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			if _, tracked := m.snapshot(name); !tracked {
				return ContainerRecord{}, false
			}
			m.markRemoved(name)
			return m.snapshot(name)
		}
		// Engine unreachable: the last known record is the best answer.
		m.logger.Warn("container inspect failed", "container", name, "error", err)
		return m.snapshot(name)
	}

	m.mu.Lock()
	rec, tracked := m.records[name]
	if !tracked {
		rec = &ContainerRecord{Name: name, CreatedAt: info.CreatedAt}
		m.records[name] = rec
	}
	rec.ID = info.ID
	rec.State = engineState(info.State)
	rec.ExitCode = info.ExitCode
	if info.StartedAt != nil {
		rec.StartedAt = info.StartedAt
	}
	if info.FinishedAt != nil {
		rec.StoppedAt = info.FinishedAt
	}
	snap := *rec
	m.mu.Unlock()

	return snap, true
}

// engineState maps an engine inspect state to the managed lifecycle state.
func engineState(state string) ContainerState {
	switch state {
	case "created":
		return StateCreated
	case "running", "paused", "restarting":
		return StateRunning
	case "exited":
		return StateStopped
	case "removing":
		return StateRemoved
	default: // "dead" and anything the engine invents later
		return StateFailed
	}
}

// =============================================================================
// Network
// =============================================================================

// EnsureNetwork creates the deployment bridge network if it does not exist
// and returns its ID, or the name when reusing an existing network.
func (m *Manager) EnsureNetwork(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = DefaultNetworkName
	}

	id, err := m.client.CreateNetwork(ctx, NetworkSpec{
		Name:   name,
		Driver: "bridge",
		Labels: map[string]string{coredeployment.LabelManaged: "true"},
	})
	if err != nil {
		if errors.Is(err, ErrNetworkAlreadyExists) {
			m.logger.Debug("network already exists, reusing", "network", name)
			return name, nil
		}
		return "", err
	}

	m.logger.Debug("created network", "network", name, "network_id", shortID(id))
	return id, nil
}

// =============================================================================
// Logs and Ports
// =============================================================================

// Logs returns up to 64KB of recent container output for failure diagnostics.
func (m *Manager) Logs(ctx context.Context, name, tail string) (string, error) {
	ref := m.refFor(name)
	reader, err := m.client.ContainerLogs(ctx, ref, LogOptions{
		Tail:       tail,
		Timestamps: true,
	})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	buf := make([]byte, 64*1024)
	n, _ := reader.Read(buf)
	return string(buf[:n]), nil
}

// UsedHostPorts lists the host ports currently bound by running containers,
// sorted ascending. Feeds the port scan so new deployments skip ports the
// engine already holds.
func (m *Manager) UsedHostPorts(ctx context.Context) ([]int, error) {
	containers, err := m.client.ListContainers(ctx, ListOptions{All: false})
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{})
	var ports []int
	for _, c := range containers {
		for _, p := range c.Ports {
			if p.HostPort == 0 {
				continue
			}
			if _, dup := seen[p.HostPort]; dup {
				continue
			}
			seen[p.HostPort] = struct{}{}
			ports = append(ports, p.HostPort)
		}
	}
	sort.Ints(ports)
	return ports, nil
}

// =============================================================================
// Record Helpers
// =============================================================================

// refFor prefers the recorded container ID over the name for engine calls.
func (m *Manager) refFor(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.records[name]; ok && rec.ID != "" {
		return rec.ID
	}
	return name
}

// snapshot returns a copy of the record for name.
func (m *Manager) snapshot(name string) (ContainerRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return ContainerRecord{}, false
	}
	return *rec, true
}

// updateRecord applies fn to the record for name, if tracked.
func (m *Manager) updateRecord(name string, fn func(*ContainerRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[name]; ok {
		fn(rec)
	}
}

func (m *Manager) markRunning(name string) {
	now := time.Now()
	m.updateRecord(name, func(r *ContainerRecord) {
		r.State = StateRunning
		r.StartedAt = &now
	})
}

func (m *Manager) markStopped(name string) {
	now := time.Now()
	m.updateRecord(name, func(r *ContainerRecord) {
		r.State = StateStopped
		if r.StoppedAt == nil {
			r.StoppedAt = &now
		}
	})
}

func (m *Manager) markRemoved(name string) {
	now := time.Now()
	m.updateRecord(name, func(r *ContainerRecord) {
		r.State = StateRemoved
		if r.StoppedAt == nil {
			r.StoppedAt = &now
		}
	})
}

// shortID truncates a container ID for log output.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
