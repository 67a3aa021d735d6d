package deployer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	coredeployment "github.com/tom-sapletta-com/coval/internal/core/deployment"
	"github.com/tom-sapletta-com/coval/internal/core/domain"
	"github.com/tom-sapletta-com/coval/internal/core/monitoring"
	"github.com/tom-sapletta-com/coval/internal/shell/docker"
	"github.com/tom-sapletta-com/coval/internal/shell/monitor"
	"github.com/tom-sapletta-com/coval/internal/shell/store"
)

// =============================================================================
// Stop
// =============================================================================

// StopDeployment stops monitoring, snapshots the container logs, tears the
// container down and marks the record stopped. Teardown is idempotent: a
// container that is already gone does not fail the stop.
func (d *Deployer) StopDeployment(ctx context.Context, iterationID string) (*domain.DeploymentRecord, error) {
	rec, err := d.store.GetDeployment(ctx, iterationID)
	if err != nil {
		return nil, NewDeployError("Stop", iterationID, "loading deployment failed", err)
	}

	if ok, reason := coredeployment.CanStop(rec.Status); !ok {
		return nil, NewDeployError("Stop", iterationID, reason, ErrNotStoppable)
	}

	d.logger.Info("stopping deployment", "iteration", iterationID, "container", rec.ContainerName)
	d.monitor.StopMonitoring(iterationID)
	d.snapshotLogs(ctx, rec)

	if !d.containers.StopAndRemove(ctx, rec.ContainerName, d.cfg.StopTimeout) {
		d.logger.Warn("container teardown incomplete", "container", rec.ContainerName)
	}

	if err := rec.Transition(domain.StatusStopped); err != nil {
		return nil, NewDeployError("Stop", iterationID, "marking deployment stopped failed", err)
	}
	rec.Health = domain.HealthStatusUnknown
	if err := d.store.UpdateDeployment(ctx, rec); err != nil {
		return nil, NewDeployError("Stop", iterationID, "persisting stopped deployment failed", err)
	}

	d.logger.Info("deployment stopped", "iteration", iterationID, "port", rec.HostPort)
	return rec, nil
}

// snapshotLogs writes the final container logs next to the iteration so they
// survive container removal. Best effort.
func (d *Deployer) snapshotLogs(ctx context.Context, rec *domain.DeploymentRecord) {
	if rec.LogsPath == "" {
		return
	}
	logs, err := d.containers.Logs(ctx, rec.ContainerName, "all")
	if err != nil || logs == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(rec.LogsPath), 0o755); err != nil {
		d.logger.Warn("log snapshot failed", "iteration", rec.IterationID, "error", err)
		return
	}
	if err := os.WriteFile(rec.LogsPath, []byte(logs), 0o644); err != nil {
		d.logger.Warn("log snapshot failed", "iteration", rec.IterationID, "error", err)
	}
}

// =============================================================================
// Remove
// =============================================================================

// Remove stops a deployment if it is still up, deletes its image and erases
// the record. Image removal is best effort; the record always goes.
func (d *Deployer) Remove(ctx context.Context, iterationID string) error {
	rec, err := d.store.GetDeployment(ctx, iterationID)
	if err != nil {
		return NewDeployError("Remove", iterationID, "loading deployment failed", err)
	}

	if ok, _ := coredeployment.CanStop(rec.Status); ok {
		if _, err := d.StopDeployment(ctx, iterationID); err != nil {
			return err
		}
	}

	if err := d.images.RemoveImage(ctx, rec.ImageTag); err != nil {
		d.logger.Warn("image removal failed", "image", rec.ImageTag, "error", err)
	}

	if err := d.store.DeleteDeployment(ctx, iterationID); err != nil {
		return NewDeployError("Remove", iterationID, "deleting deployment record failed", err)
	}
	d.logger.Info("deployment removed", "iteration", iterationID)
	return nil
}

// =============================================================================
// Cleanup
// =============================================================================

// CleanupOldDeployments stops every active deployment beyond the newest
// keepCount and returns the stopped iteration IDs. A negative keepCount uses
// the configured default. Individual stop failures are logged and skipped.
func (d *Deployer) CleanupOldDeployments(ctx context.Context, keepCount int) ([]string, error) {
	if keepCount < 0 {
		keepCount = d.cfg.KeepCount
	}

	active, err := d.store.ListActive(ctx)
	if err != nil {
		return nil, NewDeployError("Cleanup", "", "listing active deployments failed", err)
	}

	victims := coredeployment.CleanupVictims(active, keepCount)
	if len(victims) == 0 {
		d.logger.Debug("cleanup found nothing to stop", "active", len(active), "keep", keepCount)
		return nil, nil
	}

	stopped := make([]string, 0, len(victims))
	for _, victim := range victims {
		if ok, reason := coredeployment.CanStop(victim.Status); !ok {
			d.logger.Debug("cleanup skipping deployment", "iteration", victim.IterationID, "reason", reason)
			continue
		}
		if _, err := d.StopDeployment(ctx, victim.IterationID); err != nil {
			d.logger.Error("cleanup stop failed", "iteration", victim.IterationID, "error", err)
			continue
		}
		stopped = append(stopped, victim.IterationID)
	}

	d.logger.Info("cleanup finished", "stopped", len(stopped), "kept", keepCount)
	return stopped, nil
}

// =============================================================================
// Reload
// =============================================================================

// Reload reconciles persisted deployments with the engine after a daemon
// restart. Records in running or starting state are verified against a live
// container: live ones resume monitoring, vanished ones are marked stopped.
// Records interrupted mid-pipeline are marked failed; unhealthy records are
// left as they are. Returns the number of deployments resumed.
func (d *Deployer) Reload(ctx context.Context) (int, error) {
	active, err := d.store.ListActive(ctx)
	if err != nil {
		return 0, NewDeployError("Reload", "", "listing active deployments failed", err)
	}

	resumed := 0
	for i := range active {
		rec := &active[i]
		switch {
		case rec.Status.Resumable():
			if d.resumeDeployment(ctx, rec) {
				resumed++
			}
		case rec.Status == domain.StatusUnhealthy:
			// Left alone: the container was kept for inspection and the
			// record still accounts for its port until stopped.
		default:
			d.interruptDeployment(ctx, rec)
		}
	}

	d.logger.Info("deployment state reloaded",
		"active", len(active), "resumed", resumed)
	return resumed, nil
}

// resumeDeployment re-attaches one running or starting record to its
// container and restarts monitoring.
func (d *Deployer) resumeDeployment(ctx context.Context, rec *domain.DeploymentRecord) bool {
	cr, found := d.containers.Status(ctx, rec.ContainerName)
	if !found || cr.State != docker.StateRunning {
		d.logger.Warn("container gone, marking deployment stopped",
			"iteration", rec.IterationID, "container", rec.ContainerName)
		d.markStoppedAtReload(ctx, rec)
		return false
	}

	if rec.Status == domain.StatusStarting {
		// The daemon died between container start and the health gate; the
		// container survived, so promote and let monitoring judge health.
		if err := rec.Transition(domain.StatusRunning); err == nil {
			if err := d.store.UpdateDeployment(ctx, rec); err != nil {
				d.logger.Error("persisting resumed deployment failed",
					"iteration", rec.IterationID, "error", err)
			}
		}
	}

	d.monitor.StartMonitoring(monitor.Target{
		App:  rec.IterationID,
		Port: rec.HostPort,
		Spec: monitoring.DefaultSpec(),
	})
	d.logger.Info("deployment resumed",
		"iteration", rec.IterationID, "port", rec.HostPort)
	return true
}

// interruptDeployment finalizes a record whose pipeline died with the old
// daemon process.
func (d *Deployer) interruptDeployment(ctx context.Context, rec *domain.DeploymentRecord) {
	d.logger.Warn("deployment interrupted by restart, marking failed",
		"iteration", rec.IterationID, "status", rec.Status)
	if err := rec.TransitionToFailed("interrupted by daemon restart"); err != nil {
		return
	}
	if err := d.store.UpdateDeployment(ctx, rec); err != nil {
		d.logger.Error("persisting interrupted deployment failed",
			"iteration", rec.IterationID, "error", err)
	}
}

// markStoppedAtReload forces a record to stopped outside the normal state
// machine; reload repairs records whose transitions already happened in the
// real world while the daemon was down.
func (d *Deployer) markStoppedAtReload(ctx context.Context, rec *domain.DeploymentRecord) {
	now := time.Now().UTC()
	rec.Status = domain.StatusStopped
	rec.Health = domain.HealthStatusUnknown
	rec.Error = "container disappeared while the daemon was down"
	rec.StoppedAt = &now
	rec.UpdatedAt = now
	if err := d.store.UpdateDeployment(ctx, rec); err != nil {
		d.logger.Error("persisting reload repair failed",
			"iteration", rec.IterationID, "error", err)
	}
}

// =============================================================================
// Queries
// =============================================================================

// Get returns one deployment record.
func (d *Deployer) Get(ctx context.Context, iterationID string) (*domain.DeploymentRecord, error) {
	rec, err := d.store.GetDeployment(ctx, iterationID)
	if err != nil {
		return nil, NewDeployError("Get", iterationID, "loading deployment failed", err)
	}
	return rec, nil
}

// Active returns all deployments that still hold resources, oldest first.
func (d *Deployer) Active(ctx context.Context) ([]domain.DeploymentRecord, error) {
	records, err := d.store.ListActive(ctx)
	if err != nil {
		return nil, NewDeployError("Active", "", "listing active deployments failed", err)
	}
	return records, nil
}

// List returns deployment history, newest first.
func (d *Deployer) List(ctx context.Context, opts store.ListOptions) ([]domain.DeploymentRecord, error) {
	records, err := d.store.ListDeployments(ctx, opts)
	if err != nil {
		return nil, NewDeployError("List", "", "listing deployments failed", err)
	}
	return records, nil
}

// Logs returns the live container logs for a deployment, falling back to the
// persisted snapshot once the container is gone.
func (d *Deployer) Logs(ctx context.Context, iterationID, tail string) (string, error) {
	rec, err := d.store.GetDeployment(ctx, iterationID)
	if err != nil {
		return "", NewDeployError("Logs", iterationID, "loading deployment failed", err)
	}

	if logs, err := d.containers.Logs(ctx, rec.ContainerName, tail); err == nil && logs != "" {
		return logs, nil
	}

	if rec.LogsPath != "" {
		if content, err := os.ReadFile(rec.LogsPath); err == nil {
			return string(content), nil
		}
	}
	return "", NewDeployError("Logs", iterationID,
		fmt.Sprintf("no logs available for container %s", rec.ContainerName), nil)
}
