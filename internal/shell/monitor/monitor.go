package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tom-sapletta-com/coval/internal/core/domain"
	"github.com/tom-sapletta-com/coval/internal/core/monitoring"
)

// defaultInterval is used when a spec carries no probe interval.
const defaultInterval = 10 * time.Second

// prober abstracts single health checks so monitor logic is testable without
// live HTTP endpoints.
type prober interface {
	Probe(ctx context.Context, target Target) domain.ProbeResult
}

// clock abstracts time for the retry and wait loops.
type clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// =============================================================================
// Monitor
// =============================================================================

// Config holds monitor settings. Zero values fall back to defaults.
type Config struct {
	Interval    time.Duration // probe cadence when a spec carries none
	HistorySize int           // probe results retained per application
}

// Monitor runs one background probing loop per application and aggregates the
// results into per-application health records.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	prober prober
	clock  clock

	mu   sync.RWMutex
	apps map[string]*monitoredApp
}

type monitoredApp struct {
	target Target
	health *domain.AppHealth
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor backed by a real HTTP prober.
func NewMonitor(cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger,
		prober: NewProber(logger),
		clock:  realClock{},
		apps:   make(map[string]*monitoredApp),
	}
}

// Probe runs a single health check against target without touching any
// monitoring state.
func (m *Monitor) Probe(ctx context.Context, target Target) domain.ProbeResult {
	return m.prober.Probe(ctx, target)
}

// ProbeWithRetries probes target up to Retries+1 times, sleeping RetryDelay
// between attempts. It returns the first healthy result, or the last failing
// one once attempts are exhausted.
func (m *Monitor) ProbeWithRetries(ctx context.Context, target Target) domain.ProbeResult {
	spec := target.Spec
	var last domain.ProbeResult

	for attempt := 0; attempt <= spec.Retries; attempt++ {
		if attempt > 0 && spec.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return last
			case <-m.clock.After(spec.RetryDelay):
			}
		}

		last = m.prober.Probe(ctx, target)
		if last.Status == domain.HealthStatusHealthy {
			return last
		}
		m.logger.Debug("health check attempt failed",
			"app", target.App,
			"attempt", attempt+1,
			"max_attempts", spec.Retries+1,
			"status", last.Status,
			"error", last.Error)
	}

	return last
}

// WaitForHealthy polls target with single probes at the spec interval until it
// reports healthy, maxWait elapses or ctx is cancelled. It gates deployments:
// retries would only stretch the wall-clock budget, so each poll is one probe.
func (m *Monitor) WaitForHealthy(ctx context.Context, target Target, maxWait time.Duration) bool {
	m.logger.Info("waiting for application to become healthy",
		"app", target.App, "port", target.Port, "max_wait", maxWait)

	interval := m.probeInterval(target.Spec)
	start := m.clock.Now()
	deadline := start.Add(maxWait)
	attempt := 0

	for m.clock.Now().Before(deadline) {
		attempt++
		result := m.prober.Probe(ctx, target)
		if result.Status == domain.HealthStatusHealthy {
			m.logger.Info("application healthy",
				"app", target.App,
				"attempts", attempt,
				"elapsed", m.clock.Now().Sub(start))
			return true
		}
		m.logger.Debug("application not healthy yet",
			"app", target.App, "attempt", attempt, "status", result.Status, "error", result.Error)

		select {
		case <-ctx.Done():
			return false
		case <-m.clock.After(interval):
		}
	}

	m.logger.Error("application failed to become healthy in time",
		"app", target.App, "max_wait", maxWait)
	return false
}

// =============================================================================
// Continuous monitoring
// =============================================================================

// StartMonitoring spawns the background probing loop for target. Starting an
// already monitored application replaces its loop and resets its history.
func (m *Monitor) StartMonitoring(target Target) {
	m.StopMonitoring(target.App)

	m.logger.Info("starting health monitoring",
		"app", target.App, "port", target.Port, "interval", m.probeInterval(target.Spec))

	ctx, cancel := context.WithCancel(context.Background())
	app := &monitoredApp{
		target: target,
		health: monitoring.NewAppHealth(target.App, m.clock.Now()),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.apps[target.App] = app
	m.mu.Unlock()

	go m.loop(ctx, app)
}

func (m *Monitor) loop(ctx context.Context, app *monitoredApp) {
	defer close(app.done)

	interval := m.probeInterval(app.target.Spec)

	for {
		result := m.ProbeWithRetries(ctx, app.target)
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		monitoring.ApplyProbe(app.health, result, m.historySize())
		m.mu.Unlock()

		if result.Status != domain.HealthStatusHealthy {
			m.logger.Warn("health check failed",
				"app", app.target.App, "status", result.Status, "error", result.Error)
		}

		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(interval):
		}
	}
}

// StopMonitoring cancels an application's loop and waits for it to exit.
// Returns false when the application was not being monitored.
func (m *Monitor) StopMonitoring(app string) bool {
	m.mu.Lock()
	rec, ok := m.apps[app]
	if ok {
		delete(m.apps, app)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.logger.Info("stopping health monitoring", "app", app)
	rec.cancel()
	<-rec.done
	return true
}

// StopAll tears down every monitoring loop. Used at daemon shutdown.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	stopped := make([]*monitoredApp, 0, len(m.apps))
	for _, rec := range m.apps {
		stopped = append(stopped, rec)
	}
	m.apps = make(map[string]*monitoredApp)
	m.mu.Unlock()

	for _, rec := range stopped {
		rec.cancel()
		<-rec.done
	}

	if len(stopped) > 0 {
		m.logger.Info("stopped all health monitoring", "count", len(stopped))
	}
}

// =============================================================================
// Introspection
// =============================================================================

// Health returns a copy of the health record for a monitored application.
func (m *Monitor) Health(app string) (domain.AppHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.apps[app]
	if !ok {
		return domain.AppHealth{}, false
	}
	return cloneHealth(rec.health), true
}

// Snapshot returns copies of every monitored application's health record.
func (m *Monitor) Snapshot() map[string]domain.AppHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]domain.AppHealth, len(m.apps))
	for name, rec := range m.apps {
		out[name] = cloneHealth(rec.health)
	}
	return out
}

// Report builds the human-readable health report for a monitored application.
func (m *Monitor) Report(app string) (domain.HealthReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.apps[app]
	if !ok {
		return domain.HealthReport{}, false
	}
	return monitoring.BuildReport(rec.health, m.clock.Now()), true
}

func cloneHealth(h *domain.AppHealth) domain.AppHealth {
	out := *h
	out.Recent = append([]domain.ProbeResult(nil), h.Recent...)
	return out
}

// probeInterval picks the continuous probe cadence: the spec's own interval,
// then the configured default, then the package default.
func (m *Monitor) probeInterval(spec domain.HealthCheckSpec) time.Duration {
	if spec.Interval > 0 {
		return spec.Interval
	}
	if m.cfg.Interval > 0 {
		return m.cfg.Interval
	}
	return defaultInterval
}

func (m *Monitor) historySize() int {
	if m.cfg.HistorySize > 0 {
		return m.cfg.HistorySize
	}
	return monitoring.DefaultHistorySize
}
