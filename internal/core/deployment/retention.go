package deployment

import (
	"sort"

	"github.com/tom-sapletta-com/coval/internal/core/domain"
)

// =============================================================================
// Retention Planning
// =============================================================================

// CleanupVictims selects the deployments to retire so that at most keepCount
// of the given records survive. Records are ranked newest first by creation
// time (iteration ID breaks ties); everything past the cutoff is a victim.
//
// The caller decides which records are candidates; passing only active
// records means stopped history is never re-selected.
func CleanupVictims(records []domain.DeploymentRecord, keepCount int) []domain.DeploymentRecord {
	if keepCount < 0 {
		keepCount = 0
	}
	if len(records) <= keepCount {
		return nil
	}

	ranked := make([]domain.DeploymentRecord, len(records))
	copy(ranked, records)
	sort.SliceStable(ranked, func(i, j int) bool {
		if !ranked[i].CreatedAt.Equal(ranked[j].CreatedAt) {
			return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
		}
		return ranked[i].IterationID > ranked[j].IterationID
	})

	return ranked[keepCount:]
}

// =============================================================================
// Stop Gating
// =============================================================================

// CanStop reports whether a deployment in the given status accepts a stop
// request, with a reason when it does not. Only deployments whose container
// is (or may be) up can be stopped; pipeline states resolve on their own.
func CanStop(status domain.DeploymentStatus) (bool, string) {
	switch status {
	case domain.StatusRunning, domain.StatusUnhealthy:
		return true, ""
	case domain.StatusStopped:
		return false, "deployment is already stopped"
	case domain.StatusFailed:
		return false, "deployment already failed"
	default:
		return false, "deployment is still in progress"
	}
}
