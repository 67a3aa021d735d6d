// Package monitor probes deployed applications over TCP and HTTP and tracks
// their health over time. Aggregation math lives in internal/core/monitoring;
// this package supplies the I/O and the per-application monitoring loops.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tom-sapletta-com/coval/internal/core/domain"
)

// DefaultDialTimeout bounds the TCP reachability check before the HTTP probe.
const DefaultDialTimeout = 5 * time.Second

// =============================================================================
// Target
// =============================================================================

// Target identifies one probed application instance.
type Target struct {
	App  string // iteration ID, used as the monitoring key
	Host string // empty means 127.0.0.1
	Port int
	Spec domain.HealthCheckSpec
}

func (t Target) host() string {
	if t.Host == "" {
		return "127.0.0.1"
	}
	return t.Host
}

// =============================================================================
// Prober
// =============================================================================

// Prober performs single health checks. It holds no per-application state.
type Prober struct {
	logger      *slog.Logger
	dialTimeout time.Duration
	client      *http.Client
}

// NewProber creates a prober with the default dial timeout.
func NewProber(logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		logger:      logger,
		dialTimeout: DefaultDialTimeout,
		client:      &http.Client{},
	}
}

// Probe runs one health check against target: a TCP dial first, then an HTTP
// request judged against the expected status and body. An unreachable port
// short-circuits to unhealthy when the spec requires the port check.
func (p *Prober) Probe(ctx context.Context, target Target) domain.ProbeResult {
	start := time.Now()
	spec := target.Spec
	addr := net.JoinHostPort(target.host(), strconv.Itoa(target.Port))

	p.logger.Debug("probing application", "app", target.App, "addr", addr, "endpoint", spec.Endpoint)

	portOpen := p.portReachable(ctx, addr)
	if !portOpen && spec.PortCheck {
		return domain.ProbeResult{
			Status:    domain.HealthStatusUnhealthy,
			CheckedAt: start,
			Error:     fmt.Sprintf("port %d not accessible on %s", target.Port, target.host()),
			PortOpen:  false,
		}
	}

	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}
	expected := spec.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, "http://"+addr+spec.Endpoint, nil)
	if err != nil {
		return domain.ProbeResult{
			Status:    domain.HealthStatusFailed,
			CheckedAt: start,
			Error:     "unexpected error: " + truncateError(err),
			PortOpen:  portOpen,
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ProbeResult{
			Status:    transportStatus(err),
			CheckedAt: start,
			Error:     transportError(err, timeout),
			PortOpen:  portOpen,
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, domain.MaxProbeBodyBytes))
	latency := time.Since(start)

	status := domain.HealthStatusHealthy
	message := ""
	if resp.StatusCode != expected {
		status = domain.HealthStatusUnhealthy
		message = fmt.Sprintf("expected status %d, got %d", expected, resp.StatusCode)
	} else if spec.ExpectedBody != "" && !strings.Contains(string(body), spec.ExpectedBody) {
		status = domain.HealthStatusUnhealthy
		message = fmt.Sprintf("expected response content %q not found", spec.ExpectedBody)
	}

	return domain.ProbeResult{
		Status:     status,
		CheckedAt:  start,
		Latency:    latency,
		HTTPStatus: resp.StatusCode,
		Body:       string(body),
		Error:      message,
		PortOpen:   portOpen,
	}
}

// portReachable dials the address once to see whether anything listens there.
func (p *Prober) portReachable(ctx context.Context, addr string) bool {
	dialer := net.Dialer{Timeout: p.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// transportStatus classifies an HTTP transport error: timeouts, refused or
// reset connections, and everything else.
func transportStatus(err error) domain.HealthStatus {
	var nerr net.Error
	if (errors.As(err, &nerr) && nerr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return domain.HealthStatusTimeout
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return domain.HealthStatusUnhealthy
	}
	return domain.HealthStatusFailed
}

func transportError(err error, timeout time.Duration) string {
	switch transportStatus(err) {
	case domain.HealthStatusTimeout:
		return fmt.Sprintf("health check timed out after %s", timeout)
	case domain.HealthStatusUnhealthy:
		return "connection error: " + truncateError(err)
	default:
		return "unexpected error: " + truncateError(err)
	}
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
