package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createPendingRecord() *DeploymentRecord {
	return NewDeploymentRecord("iter-001", "coval-iter-001", "coval-iter-001:latest", 8000)
}

// =============================================================================
// Record Creation Tests
// =============================================================================

func TestNewDeploymentRecord(t *testing.T) {
	rec := NewDeploymentRecord("iter-001", "coval-iter-001", "coval-iter-001:latest", 8003)

	assert.Equal(t, "iter-001", rec.IterationID)
	assert.Equal(t, "coval-iter-001", rec.ContainerName)
	assert.Equal(t, "coval-iter-001:latest", rec.ImageTag)
	assert.Equal(t, 8003, rec.HostPort)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, HealthStatusUnknown, rec.Health)
	assert.NotZero(t, rec.CreatedAt)
	assert.Nil(t, rec.StartedAt)
	assert.Nil(t, rec.StoppedAt)
}

func TestIterationRef_Validate(t *testing.T) {
	err := IterationRef{ID: "iter-001"}.Validate()
	assert.NoError(t, err)

	err = IterationRef{Ancestors: []string{"iter-000"}}.Validate()
	assert.ErrorIs(t, err, ErrMissingIteration)
}

// =============================================================================
// Status Transition Tests
// =============================================================================

func TestDeploymentRecord_Transition_PipelinePath(t *testing.T) {
	rec := createPendingRecord()

	for _, status := range []DeploymentStatus{StatusComposing, StatusBuilding, StatusStarting, StatusRunning} {
		err := rec.Transition(status)
		require.NoError(t, err, "transition to %s", status)
		assert.Equal(t, status, rec.Status)
	}

	assert.NotNil(t, rec.StartedAt)
}

func TestDeploymentRecord_Transition_StartingSetsStartedAt(t *testing.T) {
	rec := createPendingRecord()
	rec.Status = StatusBuilding

	err := rec.Transition(StatusStarting)
	require.NoError(t, err)
	assert.NotNil(t, rec.StartedAt)
}

func TestDeploymentRecord_Transition_HealthGateFailure(t *testing.T) {
	rec := createPendingRecord()
	rec.Status = StatusStarting

	err := rec.Transition(StatusUnhealthy)
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, rec.Status)
	// The container stays up for inspection, so no stop timestamp.
	assert.Nil(t, rec.StoppedAt)
}

func TestDeploymentRecord_Transition_StoppedSetsStoppedAt(t *testing.T) {
	rec := createPendingRecord()
	rec.Status = StatusRunning

	err := rec.Transition(StatusStopped)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, rec.Status)
	assert.NotNil(t, rec.StoppedAt)
}

func TestDeploymentRecord_Transition_SkippingStepsRejected(t *testing.T) {
	rec := createPendingRecord()

	err := rec.Transition(StatusRunning)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPending, rec.Status)
}

func TestDeploymentRecord_Transition_TerminalStatesRejectAll(t *testing.T) {
	for _, terminal := range []DeploymentStatus{StatusStopped, StatusFailed} {
		rec := createPendingRecord()
		rec.Status = terminal

		for _, to := range []DeploymentStatus{StatusPending, StatusComposing, StatusStarting, StatusRunning} {
			err := rec.Transition(to)
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", terminal, to)
		}
	}
}

func TestDeploymentRecord_TransitionToFailed(t *testing.T) {
	for _, from := range []DeploymentStatus{StatusPending, StatusComposing, StatusBuilding, StatusStarting, StatusRunning, StatusUnhealthy} {
		rec := createPendingRecord()
		rec.Status = from

		err := rec.TransitionToFailed("image build failed")
		require.NoError(t, err, "from %s", from)
		assert.Equal(t, StatusFailed, rec.Status)
		assert.Equal(t, "image build failed", rec.Error)
	}
}

func TestDeploymentRecord_TransitionToFailed_TerminalRejected(t *testing.T) {
	rec := createPendingRecord()
	rec.Status = StatusStopped

	err := rec.TransitionToFailed("late failure")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

// =============================================================================
// Status Classification Tests
// =============================================================================

func TestDeploymentStatus_IsActive(t *testing.T) {
	tests := []struct {
		status DeploymentStatus
		active bool
	}{
		{StatusPending, true},
		{StatusComposing, true},
		{StatusBuilding, true},
		{StatusStarting, true},
		{StatusRunning, true},
		{StatusUnhealthy, true},
		{StatusStopped, false},
		{StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.IsActive())
		})
	}
}

func TestDeploymentStatus_Resumable(t *testing.T) {
	assert.True(t, StatusRunning.Resumable())
	assert.True(t, StatusStarting.Resumable())

	for _, status := range []DeploymentStatus{StatusPending, StatusComposing, StatusBuilding, StatusUnhealthy, StatusStopped, StatusFailed} {
		assert.False(t, status.Resumable(), "%s should not be resumable", status)
	}
}
