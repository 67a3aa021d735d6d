package api

import "time"

// =============================================================================
// Request Types
// =============================================================================

// DeployRequest is the request body for deploying an iteration.
type DeployRequest struct {
	IterationID string   `json:"iteration_id"`
	Ancestors   []string `json:"ancestors,omitempty"` // oldest to newest
	Language    string   `json:"language,omitempty"`
	Framework   string   `json:"framework,omitempty"`

	HealthCheck *HealthCheckRequest `json:"health_check,omitempty"`
}

// HealthCheckRequest overrides parts of the derived health check. Zero fields
// keep the framework defaults.
type HealthCheckRequest struct {
	Endpoint          string `json:"endpoint,omitempty"`
	Method            string `json:"method,omitempty"`
	ExpectedStatus    int    `json:"expected_status,omitempty"`
	ExpectedBody      string `json:"expected_body,omitempty"`
	TimeoutSeconds    int    `json:"timeout_seconds,omitempty"`
	IntervalSeconds   int    `json:"interval_seconds,omitempty"`
	Retries           int    `json:"retries,omitempty"`
	RetryDelaySeconds int    `json:"retry_delay_seconds,omitempty"`
}

// CleanupRequest is the request body for retiring old deployments. A nil
// KeepCount uses the configured retention.
type CleanupRequest struct {
	KeepCount *int `json:"keep_count,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// DeploymentResponse is the response for deployment operations.
type DeploymentResponse struct {
	IterationID   string     `json:"iteration_id"`
	ContainerName string     `json:"container_name"`
	ContainerID   string     `json:"container_id,omitempty"`
	ImageTag      string     `json:"image_tag"`
	HostPort      int        `json:"host_port"`
	URL           string     `json:"url"`
	Status        string     `json:"status"`
	Health        string     `json:"health"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	LogsPath      string     `json:"logs_path,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
}

// ListDeploymentsResponse is the response for listing deployments.
type ListDeploymentsResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
	Total       int                  `json:"total"`
	Limit       int                  `json:"limit,omitempty"`
	Offset      int                  `json:"offset,omitempty"`
}

// CleanupResponse reports which deployments a cleanup stopped.
type CleanupResponse struct {
	Stopped []string `json:"stopped"`
	Count   int      `json:"count"`
}

// LogsResponse carries container logs for a deployment.
type LogsResponse struct {
	IterationID string `json:"iteration_id"`
	Logs        string `json:"logs"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
