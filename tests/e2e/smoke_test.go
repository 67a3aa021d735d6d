package e2e

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Smoke Tests
// =============================================================================

// TestE2E_HealthCheck verifies the server is running and responding.
func TestE2E_HealthCheck(t *testing.T) {
	resp := HTTPGet(t, baseURL+"/health")
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

// TestE2E_ReadyCheck verifies the server is ready (Docker and DB connected).
func TestE2E_ReadyCheck(t *testing.T) {
	resp := HTTPGet(t, baseURL+"/ready")
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

// TestE2E_DeploymentLifecycle deploys a real Python iteration and walks it
// through serve, report, logs, stop, and remove.
func TestE2E_DeploymentLifecycle(t *testing.T) {
	const iterID = "iter-smoke-001"
	WriteIteration(t, iterID, map[string]string{
		"app.py": pythonApp("smoke-ok"),
	})

	// Deploy: build image, start container, wait for healthy
	deployed := DeployIteration(t, iterID, nil)
	require.Equal(t, iterID, deployed.IterationID)
	assert.Equal(t, "running", deployed.Status)
	assert.Equal(t, "healthy", deployed.Health)
	assert.NotZero(t, deployed.HostPort)
	assert.NotEmpty(t, deployed.ContainerID)
	assert.Contains(t, deployed.URL, "http://")

	// The app itself answers on the assigned host port
	body := WaitForBody(t, deployed.URL, 30*time.Second, func(b string) bool {
		return strings.Contains(b, "smoke-ok")
	})
	require.Contains(t, body, "smoke-ok")
	t.Logf("App responded: %s", body)

	// The deployment shows up in the active list
	list := ListActiveDeployments(t)
	found := false
	for _, d := range list.Deployments {
		if d.IterationID == iterID {
			found = true
		}
	}
	require.True(t, found, "deployment should be listed as active")

	// Continuous monitoring records probes
	deadline := time.Now().Add(30 * time.Second)
	var report map[string]any
	for time.Now().Before(deadline) {
		report = GetReport(t, iterID)
		if checks, ok := report["total_checks"].(float64); ok && checks >= 1 {
			break
		}
		time.Sleep(time.Second)
	}
	require.NotNil(t, report)
	assert.Equal(t, iterID, report["app_name"])
	assert.Equal(t, "healthy", report["status"])
	assert.GreaterOrEqual(t, report["total_checks"].(float64), float64(1))

	// Container logs are reachable through the API
	logs := GetLogs(t, iterID)
	assert.Equal(t, iterID, logs.IterationID)
	assert.Contains(t, logs.Logs, "listening on")

	// Stop the deployment
	stopped := StopDeployment(t, iterID)
	assert.Equal(t, "stopped", stopped.Status)

	// A second stop is refused
	conflict := StopExpectConflict(t, iterID)
	assert.Equal(t, "invalid_transition", conflict.Code)

	// Remove erases the record entirely
	RemoveDeployment(t, iterID)
	assert.Equal(t, http.StatusNotFound, GetDeploymentStatusCode(t, iterID))

	t.Log("PASS: Deployment lifecycle completed successfully")
}

// TestE2E_LayeredDeploymentOverride deploys an iteration on top of an
// ancestor: the iteration's own app.py wins, the ancestor's banner.txt
// shines through the merged tree.
func TestE2E_LayeredDeploymentOverride(t *testing.T) {
	const baseID = "iter-layer-base"
	const nextID = "iter-layer-next"

	WriteIteration(t, baseID, map[string]string{
		"app.py":     pythonApp("BASE"),
		"banner.txt": "from-base",
	})
	WriteIteration(t, nextID, map[string]string{
		"app.py": pythonApp("LAYERED"),
	})

	deployed := DeployIteration(t, nextID, []string{baseID})
	require.Equal(t, "running", deployed.Status)

	body := WaitForBody(t, deployed.URL, 30*time.Second, func(b string) bool {
		return strings.Contains(b, "LAYERED")
	})
	assert.Contains(t, body, "LAYERED", "iteration's own app.py should win")
	assert.Contains(t, body, "from-base", "ancestor's banner.txt should be inherited")
	assert.NotContains(t, body, "BASE from-base", "ancestor's app.py should be shadowed")

	// Leave a clean slate for the tests that follow
	StopDeployment(t, nextID)
	RemoveDeployment(t, nextID)

	t.Log("PASS: Layered composition override verified")
}

// TestE2E_DeployMissingIteration verifies the 404 contract when the
// iteration source directory does not exist.
func TestE2E_DeployMissingIteration(t *testing.T) {
	result := DeployExpectError(t, "iter-does-not-exist", http.StatusNotFound)
	assert.Equal(t, "iteration_not_found", result.Code)
}

// TestE2E_CleanupRetention deploys two iterations and verifies retention
// cleanup stops the older one while keeping the newest running.
func TestE2E_CleanupRetention(t *testing.T) {
	const olderID = "iter-keep-001"
	const newerID = "iter-keep-002"

	WriteIteration(t, olderID, map[string]string{"app.py": pythonApp("older")})
	WriteIteration(t, newerID, map[string]string{"app.py": pythonApp("newer")})

	DeployIteration(t, olderID, nil)
	DeployIteration(t, newerID, nil)

	result := CleanupDeployments(t, 1)
	require.Equal(t, 1, result.Count)
	assert.Contains(t, result.Stopped, olderID)

	older := GetDeployment(t, olderID)
	assert.Equal(t, "stopped", older.Status)

	newer := GetDeployment(t, newerID)
	assert.Equal(t, "running", newer.Status)

	// Tear both down so nothing lingers past the suite
	StopDeployment(t, newerID)
	RemoveDeployment(t, newerID)
	RemoveDeployment(t, olderID)

	t.Log("PASS: Retention cleanup verified")
}
