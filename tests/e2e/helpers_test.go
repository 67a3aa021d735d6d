// Package e2e provides end-to-end testing utilities for coval.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	coredeployment "github.com/tom-sapletta-com/coval/internal/core/deployment"
	"github.com/tom-sapletta-com/coval/internal/shell/docker"
)

// =============================================================================
// Iteration Fixtures
// =============================================================================

// WriteIteration writes an iteration source tree under the test workspace.
func WriteIteration(t *testing.T, id string, files map[string]string) {
	t.Helper()

	dir := filepath.Join(testRoot, "iterations", id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create iteration dir: %v", err)
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create dir for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	t.Logf("Wrote iteration %s (%d files)", id, len(files))
}

// pythonApp returns a dependency-free HTTP server that answers every GET with
// marker, appending the content of banner.txt when the merged tree carries
// one. Listening on $PORT matches the injected container environment.
func pythonApp(marker string) string {
	return fmt.Sprintf(`import http.server
import os

MARKER = %q


class Handler(http.server.BaseHTTPRequestHandler):
    def do_GET(self):
        extra = ""
        if os.path.exists("banner.txt"):
            with open("banner.txt") as f:
                extra = " " + f.read().strip()
        body = (MARKER + extra).encode()
        self.send_response(200)
        self.send_header("Content-Type", "text/plain")
        self.send_header("Content-Length", str(len(body)))
        self.end_headers()
        self.wfile.write(body)

    def log_message(self, fmt, *args):
        pass


port = int(os.environ.get("PORT", "8000"))
print("listening on", port, flush=True)
http.server.HTTPServer(("0.0.0.0", port), Handler).serve_forever()
`, marker)
}

// =============================================================================
// API Result Types
// =============================================================================

// DeploymentResult mirrors the deployment payload served by the API.
type DeploymentResult struct {
	IterationID   string `json:"iteration_id"`
	ContainerName string `json:"container_name"`
	ContainerID   string `json:"container_id"`
	ImageTag      string `json:"image_tag"`
	HostPort      int    `json:"host_port"`
	URL           string `json:"url"`
	Status        string `json:"status"`
	Health        string `json:"health"`
	ErrorMessage  string `json:"error_message"`
}

// ListResult mirrors the deployment listing payload.
type ListResult struct {
	Deployments []DeploymentResult `json:"deployments"`
	Total       int                `json:"total"`
}

// CleanupResult mirrors the cleanup payload.
type CleanupResult struct {
	Stopped []string `json:"stopped"`
	Count   int      `json:"count"`
}

// LogsResult mirrors the logs payload.
type LogsResult struct {
	IterationID string `json:"iteration_id"`
	Logs        string `json:"logs"`
}

// ErrorResult mirrors the error envelope.
type ErrorResult struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// API Client Helpers
// =============================================================================

// doJSON performs an HTTP request with a JSON body.
func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := testClient.Do(req)
	if err != nil {
		t.Fatalf("HTTP %s %s failed: %v", method, url, err)
	}
	return resp
}

// decodeAs decodes a response body, failing the test on malformed JSON.
func decodeAs[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var result T
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return result
}

// readBody drains a response body for diagnostics.
func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

// DeployIteration deploys an iteration and expects a created, running
// deployment back.
func DeployIteration(t *testing.T, iterationID string, ancestors []string) *DeploymentResult {
	t.Helper()

	body := map[string]any{"iteration_id": iterationID}
	if len(ancestors) > 0 {
		body["ancestors"] = ancestors
	}

	resp := doJSON(t, "POST", baseURL+"/api/v1/deployments", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Failed to deploy %s: status=%d body=%s", iterationID, resp.StatusCode, readBody(resp))
	}

	result := decodeAs[DeploymentResult](t, resp)
	t.Logf("Deployed %s: status=%s port=%d", result.IterationID, result.Status, result.HostPort)
	return &result
}

// DeployExpectError deploys and expects the given error status back.
func DeployExpectError(t *testing.T, iterationID string, wantStatus int) *ErrorResult {
	t.Helper()

	resp := doJSON(t, "POST", baseURL+"/api/v1/deployments", map[string]any{"iteration_id": iterationID})
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("Deploy %s: expected status %d, got %d body=%s",
			iterationID, wantStatus, resp.StatusCode, readBody(resp))
	}

	result := decodeAs[ErrorResult](t, resp)
	return &result
}

// GetDeployment gets a deployment by iteration ID.
func GetDeployment(t *testing.T, iterationID string) *DeploymentResult {
	t.Helper()

	resp := doJSON(t, "GET", baseURL+"/api/v1/deployments/"+iterationID, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Failed to get deployment %s: status=%d body=%s", iterationID, resp.StatusCode, readBody(resp))
	}

	result := decodeAs[DeploymentResult](t, resp)
	return &result
}

// GetDeploymentStatusCode returns just the status code for a lookup.
func GetDeploymentStatusCode(t *testing.T, iterationID string) int {
	t.Helper()

	resp := doJSON(t, "GET", baseURL+"/api/v1/deployments/"+iterationID, nil)
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// ListActiveDeployments lists the active deployment set.
func ListActiveDeployments(t *testing.T) *ListResult {
	t.Helper()

	resp := doJSON(t, "GET", baseURL+"/api/v1/deployments", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Failed to list deployments: status=%d body=%s", resp.StatusCode, readBody(resp))
	}

	result := decodeAs[ListResult](t, resp)
	return &result
}

// StopDeployment stops a deployment.
func StopDeployment(t *testing.T, iterationID string) *DeploymentResult {
	t.Helper()

	resp := doJSON(t, "POST", baseURL+"/api/v1/deployments/"+iterationID+"/stop", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Failed to stop deployment %s: status=%d body=%s", iterationID, resp.StatusCode, readBody(resp))
	}

	result := decodeAs[DeploymentResult](t, resp)
	t.Logf("Stopped deployment %s: status=%s", result.IterationID, result.Status)
	return &result
}

// StopExpectConflict stops a deployment expecting a refusal.
func StopExpectConflict(t *testing.T, iterationID string) *ErrorResult {
	t.Helper()

	resp := doJSON(t, "POST", baseURL+"/api/v1/deployments/"+iterationID+"/stop", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Stop %s: expected conflict, got %d body=%s", iterationID, resp.StatusCode, readBody(resp))
	}

	result := decodeAs[ErrorResult](t, resp)
	return &result
}

// RemoveDeployment removes a deployment and its image.
func RemoveDeployment(t *testing.T, iterationID string) {
	t.Helper()

	resp := doJSON(t, "DELETE", baseURL+"/api/v1/deployments/"+iterationID, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Failed to remove deployment %s: status=%d body=%s", iterationID, resp.StatusCode, readBody(resp))
	}

	t.Logf("Removed deployment %s", iterationID)
}

// CleanupDeployments runs retention cleanup with an explicit keep count.
func CleanupDeployments(t *testing.T, keepCount int) *CleanupResult {
	t.Helper()

	resp := doJSON(t, "POST", baseURL+"/api/v1/deployments/cleanup", map[string]any{"keep_count": keepCount})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Failed to run cleanup: status=%d body=%s", resp.StatusCode, readBody(resp))
	}

	result := decodeAs[CleanupResult](t, resp)
	t.Logf("Cleanup stopped %d deployments: %v", result.Count, result.Stopped)
	return &result
}

// GetReport fetches the health report for a monitored deployment.
func GetReport(t *testing.T, iterationID string) map[string]any {
	t.Helper()

	resp := doJSON(t, "GET", baseURL+"/api/v1/deployments/"+iterationID+"/report", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Failed to get report for %s: status=%d body=%s", iterationID, resp.StatusCode, readBody(resp))
	}

	return decodeAs[map[string]any](t, resp)
}

// GetLogs fetches container logs for a deployment.
func GetLogs(t *testing.T, iterationID string) *LogsResult {
	t.Helper()

	resp := doJSON(t, "GET", baseURL+"/api/v1/deployments/"+iterationID+"/logs", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Failed to get logs for %s: status=%d body=%s", iterationID, resp.StatusCode, readBody(resp))
	}

	result := decodeAs[LogsResult](t, resp)
	return &result
}

// HTTPGet performs an HTTP GET request and returns the response.
func HTTPGet(t *testing.T, url string) *http.Response {
	t.Helper()

	resp, err := testClient.Get(url)
	if err != nil {
		t.Fatalf("HTTP GET failed: %v", err)
	}
	return resp
}

// WaitForBody polls url until the response body satisfies check or the
// timeout passes, returning the last body seen.
func WaitForBody(t *testing.T, url string, timeout time.Duration, check func(string) bool) string {
	t.Helper()

	deadline := time.Now().Add(timeout)
	last := ""
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			last = string(b)
			if check(last) {
				return last
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return last
}

// =============================================================================
// Cleanup Utilities
// =============================================================================

// CleanupAllTestResources removes every coval-managed container. Used in
// TestMain setup and teardown so crashed runs cannot poison the next one.
func CleanupAllTestResources(ctx context.Context, d docker.Client) error {
	containers, err := d.ListContainers(ctx, docker.ListOptions{
		All: true,
		Filters: map[string]string{
			"label": coredeployment.LabelManaged + "=true",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	for _, c := range containers {
		timeout := 5 * time.Second
		_ = d.StopContainer(ctx, c.ID, &timeout)
		_ = d.RemoveContainer(ctx, c.ID, docker.RemoveOptions{Force: true, RemoveVolumes: true})
	}

	return nil
}
