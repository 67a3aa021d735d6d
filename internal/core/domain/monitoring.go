// Package domain contains the core domain types for Coval.
package domain

import "time"

// =============================================================================
// Health Status
// =============================================================================

// HealthStatus represents the observed health of a deployed application.
type HealthStatus string

const (
	HealthStatusUnknown   HealthStatus = "unknown"
	HealthStatusStarting  HealthStatus = "starting"
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusFailed    HealthStatus = "failed"
	HealthStatusTimeout   HealthStatus = "timeout"
)

// =============================================================================
// Health Check Spec
// =============================================================================

// HealthCheckSpec describes how an application is probed. It is supplied once
// per deployment and derived from the framework defaults table when not
// explicit.
type HealthCheckSpec struct {
	Endpoint       string        `json:"endpoint"`
	Method         string        `json:"method"`
	ExpectedStatus int           `json:"expected_status"`
	ExpectedBody   string        `json:"expected_body,omitempty"` // substring match
	Timeout        time.Duration `json:"timeout"`
	Interval       time.Duration `json:"interval"`
	Retries        int           `json:"retries"`
	RetryDelay     time.Duration `json:"retry_delay"`
	PortCheck      bool          `json:"port_check"`
}

// =============================================================================
// Probe Results
// =============================================================================

// ProbeResult is the immutable outcome of a single health probe.
type ProbeResult struct {
	Status     HealthStatus  `json:"status"`
	CheckedAt  time.Time     `json:"checked_at"`
	Latency    time.Duration `json:"latency"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Body       string        `json:"body,omitempty"` // truncated, see MaxProbeBodyBytes
	Error      string        `json:"error,omitempty"`
	PortOpen   bool          `json:"port_open"`
}

// MaxProbeBodyBytes bounds how much of a probe response body is retained.
const MaxProbeBodyBytes = 500

// =============================================================================
// Application Health
// =============================================================================

// AppHealth aggregates probe history for one monitored application. It is
// owned by the health monitor and mutated only by that application's own
// monitoring loop.
type AppHealth struct {
	AppName          string        `json:"app_name"`
	Status           HealthStatus  `json:"status"`
	LastCheck        time.Time     `json:"last_check"`
	TotalChecks      int           `json:"total_checks"`
	SuccessfulChecks int           `json:"successful_checks"`
	FailedChecks     int           `json:"failed_checks"`
	AvgLatency       time.Duration `json:"avg_latency"` // over successful probes only
	Recent           []ProbeResult `json:"recent"`      // bounded ring, newest last
	UptimeStart      *time.Time    `json:"uptime_start,omitempty"`
	LastFailure      *time.Time    `json:"last_failure,omitempty"`
}

// =============================================================================
// Health Report
// =============================================================================

// ProbeSummary is one line of recent history in a health report.
type ProbeSummary struct {
	Status    HealthStatus `json:"status"`
	CheckedAt time.Time    `json:"checked_at"`
	LatencyMS float64      `json:"latency_ms"`
	Error     string       `json:"error,omitempty"`
}

// HealthReport is the on-demand aggregate view exposed to callers.
type HealthReport struct {
	AppName          string         `json:"app_name"`
	Status           HealthStatus   `json:"status"`
	LastCheck        time.Time      `json:"last_check"`
	TotalChecks      int            `json:"total_checks"`
	SuccessfulChecks int            `json:"successful_checks"`
	FailedChecks     int            `json:"failed_checks"`
	SuccessRate      float64        `json:"success_rate_percentage"`
	AvgLatencyMS     float64        `json:"average_response_time_ms"`
	UptimeSeconds    float64        `json:"uptime_seconds"`
	UptimeHuman      string         `json:"uptime_human"`
	Recent           []ProbeSummary `json:"recent_status_history"`
}
