// Package monitoring provides pure functions for application health tracking.
// This package contains NO I/O - probes live in internal/shell/monitor.
package monitoring

import (
	"math"
	"time"

	"github.com/docker/go-units"

	"github.com/tom-sapletta-com/coval/internal/core/domain"
)

const (
	// DefaultHistorySize bounds the probe ring kept per application.
	DefaultHistorySize = 10
	// ReportHistorySize is how many recent probes a health report shows.
	ReportHistorySize = 5
)

// =============================================================================
// Framework Defaults
// =============================================================================

// DefaultSpec returns the generic health check configuration: GET /health
// expecting 200.
func DefaultSpec() domain.HealthCheckSpec {
	return domain.HealthCheckSpec{
		Endpoint:       "/health",
		Method:         "GET",
		ExpectedStatus: 200,
		Timeout:        15 * time.Second,
		Interval:       10 * time.Second,
		Retries:        3,
		RetryDelay:     5 * time.Second,
		PortCheck:      true,
	}
}

// SpecForFramework returns the default health check configuration for a known
// framework. Unknown frameworks get the generic default. Django is the odd one
// out: its router requires the trailing slash.
func SpecForFramework(framework string) domain.HealthCheckSpec {
	spec := DefaultSpec()
	switch framework {
	case "django":
		spec.Endpoint = "/health/"
	}
	return spec
}

// MergeSpecs overlays the non-zero fields of override onto base. Used to
// refine a framework default with compose-file hints or explicit settings.
func MergeSpecs(base, override domain.HealthCheckSpec) domain.HealthCheckSpec {
	if override.Endpoint != "" {
		base.Endpoint = override.Endpoint
	}
	if override.Method != "" {
		base.Method = override.Method
	}
	if override.ExpectedStatus != 0 {
		base.ExpectedStatus = override.ExpectedStatus
	}
	if override.ExpectedBody != "" {
		base.ExpectedBody = override.ExpectedBody
	}
	if override.Timeout != 0 {
		base.Timeout = override.Timeout
	}
	if override.Interval != 0 {
		base.Interval = override.Interval
	}
	if override.Retries != 0 {
		base.Retries = override.Retries
	}
	if override.RetryDelay != 0 {
		base.RetryDelay = override.RetryDelay
	}
	return base
}

// =============================================================================
// Health Aggregation
// =============================================================================

// NewAppHealth creates the tracking record for a freshly monitored
// application.
func NewAppHealth(appName string, now time.Time) *domain.AppHealth {
	return &domain.AppHealth{
		AppName:   appName,
		Status:    domain.HealthStatusStarting,
		LastCheck: now,
	}
}

// ApplyProbe folds one probe result into an application health record:
// counters, success-only rolling average latency, the uptime window (reset on
// any non-healthy result) and the bounded ring of recent results.
func ApplyProbe(h *domain.AppHealth, result domain.ProbeResult, historySize int) {
	h.LastCheck = result.CheckedAt
	h.TotalChecks++
	h.Status = result.Status

	if result.Status == domain.HealthStatusHealthy {
		h.SuccessfulChecks++
		if h.UptimeStart == nil {
			start := result.CheckedAt
			h.UptimeStart = &start
		}
		// Incremental mean over successful probes only.
		n := time.Duration(h.SuccessfulChecks)
		h.AvgLatency += (result.Latency - h.AvgLatency) / n
	} else {
		h.FailedChecks++
		failedAt := result.CheckedAt
		h.LastFailure = &failedAt
		h.UptimeStart = nil
	}

	h.Recent = append(h.Recent, result)
	if historySize > 0 && len(h.Recent) > historySize {
		h.Recent = h.Recent[len(h.Recent)-historySize:]
	}
}

// =============================================================================
// Report Generation
// =============================================================================

// BuildReport computes the aggregate health report for an application.
func BuildReport(h *domain.AppHealth, now time.Time) domain.HealthReport {
	report := domain.HealthReport{
		AppName:          h.AppName,
		Status:           h.Status,
		LastCheck:        h.LastCheck,
		TotalChecks:      h.TotalChecks,
		SuccessfulChecks: h.SuccessfulChecks,
		FailedChecks:     h.FailedChecks,
		AvgLatencyMS:     round2(float64(h.AvgLatency) / float64(time.Millisecond)),
	}

	if h.TotalChecks > 0 {
		report.SuccessRate = round2(float64(h.SuccessfulChecks) / float64(h.TotalChecks) * 100)
	}

	if h.UptimeStart != nil {
		uptime := now.Sub(*h.UptimeStart)
		report.UptimeSeconds = math.Round(uptime.Seconds())
		report.UptimeHuman = units.HumanDuration(uptime)
	}

	recent := h.Recent
	if len(recent) > ReportHistorySize {
		recent = recent[len(recent)-ReportHistorySize:]
	}
	report.Recent = make([]domain.ProbeSummary, 0, len(recent))
	for _, r := range recent {
		report.Recent = append(report.Recent, domain.ProbeSummary{
			Status:    r.Status,
			CheckedAt: r.CheckedAt,
			LatencyMS: round2(float64(r.Latency) / float64(time.Millisecond)),
			Error:     r.Error,
		})
	}

	return report
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
