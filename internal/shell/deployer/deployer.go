package deployer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tom-sapletta-com/coval/internal/core/compose"
	coredeployment "github.com/tom-sapletta-com/coval/internal/core/deployment"
	"github.com/tom-sapletta-com/coval/internal/core/domain"
	"github.com/tom-sapletta-com/coval/internal/core/monitoring"
	"github.com/tom-sapletta-com/coval/internal/shell/docker"
	"github.com/tom-sapletta-com/coval/internal/shell/monitor"
	"github.com/tom-sapletta-com/coval/internal/shell/overlay"
	"github.com/tom-sapletta-com/coval/internal/shell/store"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the orchestrator settings. Zero values fall back to defaults.
type Config struct {
	Root         string // iteration workspace root, default ".coval"
	BasePort     int    // first host port to try, default 8000
	MaxPort      int    // last host port to try, default 65535
	Network      string // bridge network name, default docker.DefaultNetworkName
	HealthWait   time.Duration
	BuildTimeout time.Duration
	StopTimeout  time.Duration
	KeepCount    int // deployments kept by cleanup, default 3
}

func (c Config) withDefaults() Config {
	if c.Root == "" {
		c.Root = ".coval"
	}
	if c.BasePort <= 0 {
		c.BasePort = 8000
	}
	if c.MaxPort <= 0 {
		c.MaxPort = 65535
	}
	if c.Network == "" {
		c.Network = docker.DefaultNetworkName
	}
	if c.HealthWait <= 0 {
		c.HealthWait = 120 * time.Second
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = 300 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.KeepCount <= 0 {
		c.KeepCount = 3
	}
	return c
}

// =============================================================================
// Dependencies
// =============================================================================

// ContainerManager is the lifecycle surface the deployer drives.
type ContainerManager interface {
	Create(ctx context.Context, spec docker.ContainerSpec) docker.ContainerRecord
	Start(ctx context.Context, name string) bool
	StopAndRemove(ctx context.Context, name string, timeout time.Duration) bool
	Status(ctx context.Context, name string) (docker.ContainerRecord, bool)
	EnsureNetwork(ctx context.Context, name string) (string, error)
	UsedHostPorts(ctx context.Context) ([]int, error)
	Logs(ctx context.Context, name, tail string) (string, error)
}

// ImageBuilder is the engine surface for image builds.
type ImageBuilder interface {
	BuildImage(ctx context.Context, contextDir, tag string) error
	RemoveImage(ctx context.Context, tag string) error
}

// HealthGate is the monitor surface the deployer drives.
type HealthGate interface {
	WaitForHealthy(ctx context.Context, target monitor.Target, maxWait time.Duration) bool
	StartMonitoring(target monitor.Target)
	StopMonitoring(app string) bool
}

// Deps bundles the collaborators a Deployer needs.
type Deps struct {
	Store      store.Store
	Containers ContainerManager
	Images     ImageBuilder
	Composer   overlay.Composer
	Monitor    HealthGate
}

// =============================================================================
// Deployer
// =============================================================================

// Deployer runs the deployment pipeline and owns the active deployment set.
type Deployer struct {
	cfg        Config
	store      store.Store
	containers ContainerManager
	images     ImageBuilder
	composer   overlay.Composer
	monitor    HealthGate
	logger     *slog.Logger

	// portMu guards the in-flight port reservations so concurrent deploys
	// cannot race onto one port before either record is persisted.
	portMu   sync.Mutex
	reserved map[int]bool

	// probePort is swapped in tests to avoid binding real sockets.
	probePort func(port int) bool
}

// New creates a deployer.
func New(cfg Config, deps Deps, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		cfg:        cfg.withDefaults(),
		store:      deps.Store,
		containers: deps.Containers,
		images:     deps.Images,
		composer:   deps.Composer,
		monitor:    deps.Monitor,
		logger:     logger,
		reserved:   make(map[int]bool),
		probePort:  bindProbe,
	}
}

// Request describes one deployment attempt.
type Request struct {
	Iteration domain.IterationRef
	Language  string // empty means detect from the iteration tree
	Framework string // empty means detect from the iteration tree
	Health    *domain.HealthCheckSpec
}

// =============================================================================
// Deploy Pipeline
// =============================================================================

// Deploy runs the full pipeline for one iteration. Pipeline failures finalize
// and return the record with status failed or unhealthy and a nil error; a
// non-nil error means the request itself could not be accepted.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*domain.DeploymentRecord, error) {
	if err := req.Iteration.Validate(); err != nil {
		return nil, NewDeployError("Deploy", "", "iteration id is required", err)
	}
	iterationID := req.Iteration.ID

	sourceDir := coredeployment.IterationDir(d.cfg.Root, iterationID)
	if _, err := os.Stat(sourceDir); err != nil {
		return nil, NewDeployError("Deploy", iterationID,
			fmt.Sprintf("iteration source not found at %s", sourceDir), ErrIterationNotFound)
	}

	language, framework := d.detect(sourceDir, req)
	healthSpec := monitoring.SpecForFramework(framework)
	if req.Health != nil {
		healthSpec = monitoring.MergeSpecs(healthSpec, *req.Health)
	}

	d.logger.Info("deploying iteration",
		"iteration", iterationID,
		"ancestors", len(req.Iteration.Ancestors),
		"language", language,
		"framework", framework)

	port, err := d.resolvePort(ctx)
	if err != nil {
		return nil, NewDeployError("Deploy", iterationID, "no free host port", err)
	}
	defer d.releasePort(port)

	rec := domain.NewDeploymentRecord(
		iterationID,
		coredeployment.ContainerName(iterationID),
		coredeployment.ImageTag(iterationID),
		port,
	)
	rec.LogsPath = coredeployment.LogsPath(d.cfg.Root, iterationID)

	if err := d.persistNew(ctx, rec); err != nil {
		return nil, err
	}

	// Compose the layered source tree.
	if err := d.transition(ctx, rec, domain.StatusComposing); err != nil {
		return nil, err
	}
	merged, err := d.composeSource(ctx, req.Iteration)
	if err != nil {
		return d.fail(ctx, rec, fmt.Sprintf("source composition failed: %v", err)), nil
	}

	// Build the image from the merged tree.
	if err := d.transition(ctx, rec, domain.StatusBuilding); err != nil {
		return nil, err
	}
	hints := d.composeHints(merged)
	if hints != nil && hints.HealthCheck != nil {
		healthSpec = monitoring.MergeSpecs(healthSpec, *hints.HealthCheck)
		if req.Health != nil {
			healthSpec = monitoring.MergeSpecs(healthSpec, *req.Health)
		}
	}
	if err := d.ensureBuildFiles(merged, language, framework, port); err != nil {
		return d.fail(ctx, rec, fmt.Sprintf("writing build descriptor failed: %v", err)), nil
	}

	buildCtx, cancelBuild := context.WithTimeout(ctx, d.cfg.BuildTimeout)
	err = d.images.BuildImage(buildCtx, merged, rec.ImageTag)
	cancelBuild()
	if err != nil {
		return d.fail(ctx, rec, fmt.Sprintf("image build failed: %v", err)), nil
	}

	// Create and start the container.
	if err := d.transition(ctx, rec, domain.StatusStarting); err != nil {
		return nil, err
	}
	plan := coredeployment.BuildContainerPlan(coredeployment.ContainerPlanParams{
		IterationID:   iterationID,
		Language:      language,
		Framework:     framework,
		HostPort:      port,
		ContainerPort: containerPortHint(hints),
		ExtraEnv:      extraEnvHint(hints),
	})

	network, err := d.containers.EnsureNetwork(ctx, d.cfg.Network)
	if err != nil {
		return d.fail(ctx, rec, fmt.Sprintf("network setup failed: %v", err)), nil
	}

	created := d.containers.Create(ctx, docker.ContainerSpec{
		Name:   plan.Name,
		Image:  plan.Image,
		Env:    plan.Env,
		Labels: plan.Labels,
		Ports: []docker.PortBinding{{
			ContainerPort: plan.ContainerPort,
			HostPort:      plan.HostPort,
		}},
		NetworkName:   network,
		RestartPolicy: plan.RestartPolicy,
	})
	if created.State == docker.StateFailed {
		return d.fail(ctx, rec, fmt.Sprintf("container creation failed: %s", created.Error)), nil
	}
	rec.ContainerID = created.ID
	if err := d.persist(ctx, rec); err != nil {
		return nil, err
	}

	if !d.containers.Start(ctx, plan.Name) {
		return d.fail(ctx, rec, "container failed to start"), nil
	}

	// Health gate. A failed gate leaves the container running for inspection.
	target := monitor.Target{
		App:  iterationID,
		Port: port,
		Spec: healthSpec,
	}
	if !d.monitor.WaitForHealthy(ctx, target, d.cfg.HealthWait) {
		rec.Health = domain.HealthStatusUnhealthy
		rec.Error = fmt.Sprintf("application not healthy within %s", d.cfg.HealthWait)
		if err := d.transition(ctx, rec, domain.StatusUnhealthy); err != nil {
			return nil, err
		}
		d.logger.Warn("deployment unhealthy, container left running",
			"iteration", iterationID, "port", port)
		return rec, nil
	}

	rec.Health = domain.HealthStatusHealthy
	if err := d.transition(ctx, rec, domain.StatusRunning); err != nil {
		return nil, err
	}
	d.monitor.StartMonitoring(target)

	d.logger.Info("deployment running",
		"iteration", iterationID,
		"container", plan.Name,
		"port", port,
		"url", fmt.Sprintf("http://localhost:%d", port))
	return rec, nil
}

// =============================================================================
// Pipeline Steps
// =============================================================================

// persistNew stores the pending record, replacing a finished earlier attempt
// for the same iteration in one transaction.
func (d *Deployer) persistNew(ctx context.Context, rec *domain.DeploymentRecord) error {
	existing, err := d.store.GetDeployment(ctx, rec.IterationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return NewDeployError("Deploy", rec.IterationID, "loading previous attempt failed", err)
	}

	if existing == nil {
		if err := d.store.CreateDeployment(ctx, rec); err != nil {
			return NewDeployError("Deploy", rec.IterationID, "persisting deployment failed", err)
		}
		return nil
	}

	switch existing.Status {
	case domain.StatusPending, domain.StatusComposing, domain.StatusBuilding, domain.StatusStarting:
		return NewDeployError("Deploy", rec.IterationID,
			"a deployment attempt for this iteration is still in progress", ErrDeploymentInProgress)
	case domain.StatusRunning, domain.StatusUnhealthy:
		// Redeploy replaces the live deployment. The lifecycle manager
		// force-cleans the old container on create; monitoring stops here.
		d.monitor.StopMonitoring(rec.IterationID)
	}

	err = d.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteDeployment(ctx, rec.IterationID); err != nil {
			return err
		}
		return tx.CreateDeployment(ctx, rec)
	})
	if err != nil {
		return NewDeployError("Deploy", rec.IterationID, "replacing previous attempt failed", err)
	}
	return nil
}

func (d *Deployer) transition(ctx context.Context, rec *domain.DeploymentRecord, to domain.DeploymentStatus) error {
	if err := rec.Transition(to); err != nil {
		return NewDeployError("Deploy", rec.IterationID,
			fmt.Sprintf("illegal transition %s -> %s", rec.Status, to), err)
	}
	d.logger.Debug("deployment status", "iteration", rec.IterationID, "status", to)
	return d.persist(ctx, rec)
}

func (d *Deployer) persist(ctx context.Context, rec *domain.DeploymentRecord) error {
	if err := d.store.UpdateDeployment(ctx, rec); err != nil {
		return NewDeployError("Deploy", rec.IterationID, "persisting deployment failed", err)
	}
	return nil
}

// fail finalizes the record as failed with the first error message and
// returns it.
func (d *Deployer) fail(ctx context.Context, rec *domain.DeploymentRecord, message string) *domain.DeploymentRecord {
	d.logger.Error("deployment failed",
		"iteration", rec.IterationID, "status", rec.Status, "error", message)

	if err := rec.TransitionToFailed(message); err != nil {
		return rec
	}
	if err := d.store.UpdateDeployment(ctx, rec); err != nil {
		d.logger.Error("failed to persist failed deployment",
			"iteration", rec.IterationID, "error", err)
	}
	return rec
}

// composeSource merges the iteration and its ancestors into the per-iteration
// build directory and returns the merged tree root.
func (d *Deployer) composeSource(ctx context.Context, ref domain.IterationRef) (string, error) {
	stageDir := coredeployment.BuildDir(d.cfg.Root, ref.ID)
	if err := os.RemoveAll(stageDir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return "", err
	}

	ancestors := make([]string, len(ref.Ancestors))
	for i, ancestor := range ref.Ancestors {
		ancestors[i] = coredeployment.IterationDir(d.cfg.Root, ancestor)
	}

	return d.composer.Compose(ctx, coredeployment.IterationDir(d.cfg.Root, ref.ID), ancestors, stageDir)
}

// composeHints reads deployment hints from a compose file at the merged tree
// root. Absence or an unparseable file is not an error.
func (d *Deployer) composeHints(mergedDir string) *compose.DeployHints {
	entries, err := os.ReadDir(mergedDir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	name := compose.FindComposeName(names)
	if name == "" {
		return nil
	}

	content, err := os.ReadFile(filepath.Join(mergedDir, name))
	if err != nil {
		d.logger.Warn("compose file unreadable, ignoring", "file", name, "error", err)
		return nil
	}
	hints, err := compose.ParseHints(string(content))
	if err != nil {
		d.logger.Warn("compose file unparseable, ignoring", "file", name, "error", err)
		return nil
	}

	d.logger.Debug("compose hints discovered",
		"file", name, "service", hints.ServiceName, "container_port", hints.ContainerPort)
	return hints
}

// ensureBuildFiles synthesizes a default Dockerfile and start script when the
// merged tree ships no build descriptor.
func (d *Deployer) ensureBuildFiles(mergedDir, language, framework string, port int) error {
	dockerfile := filepath.Join(mergedDir, coredeployment.DockerfileName)
	if _, err := os.Stat(dockerfile); err == nil {
		return nil
	}

	d.logger.Info("no Dockerfile in merged tree, synthesizing default",
		"language", language, "framework", framework)
	if err := os.WriteFile(dockerfile, []byte(coredeployment.SynthesizeDockerfile(language, port)), 0o644); err != nil {
		return err
	}

	script := filepath.Join(mergedDir, coredeployment.StartScriptName)
	if _, err := os.Stat(script); err == nil {
		return nil
	}
	return os.WriteFile(script, []byte(coredeployment.SynthesizeStartScript(framework, port)), 0o755)
}

// detect fills in language and framework from the iteration tree unless the
// request pinned them.
func (d *Deployer) detect(sourceDir string, req Request) (language, framework string) {
	language = req.Language
	framework = req.Framework
	if language != "" && framework != "" {
		return language, framework
	}

	if language == "" {
		language = coredeployment.DetectLanguage(listRelPaths(sourceDir))
	}
	if framework == "" {
		requirements, _ := os.ReadFile(filepath.Join(sourceDir, "requirements.txt"))
		packageJSON, _ := os.ReadFile(filepath.Join(sourceDir, "package.json"))
		framework = coredeployment.DetectFramework(string(requirements), packageJSON)
	}
	return language, framework
}

func containerPortHint(hints *compose.DeployHints) int {
	if hints == nil {
		return 0
	}
	return hints.ContainerPort
}

func extraEnvHint(hints *compose.DeployHints) map[string]string {
	if hints == nil {
		return nil
	}
	return hints.Environment
}

// detectSkipDirs are ignored when walking an iteration tree for detection.
var detectSkipDirs = map[string]bool{
	".git":         true,
	"__pycache__":  true,
	"node_modules": true,
	".coval":       true,
}

func listRelPaths(root string) []string {
	var paths []string
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if detectSkipDirs[entry.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	return paths
}

// =============================================================================
// Port Resolution
// =============================================================================

// resolvePort scans upward from the base port, skipping ports held by active
// records, ports the engine reports bound, in-flight reservations and ports
// that fail a local bind probe.
func (d *Deployer) resolvePort(ctx context.Context) (int, error) {
	d.portMu.Lock()
	defer d.portMu.Unlock()

	used, err := d.store.UsedPorts(ctx)
	if err != nil {
		return 0, err
	}
	enginePorts, err := d.containers.UsedHostPorts(ctx)
	if err != nil {
		d.logger.Warn("engine port listing failed, relying on records and probes", "error", err)
	} else {
		used = append(used, enginePorts...)
	}
	for port := range d.reserved {
		used = append(used, port)
	}

	portRange := coredeployment.PortRange{Start: d.cfg.BasePort, End: d.cfg.MaxPort}
	for {
		port, err := coredeployment.AllocatePort(used, portRange)
		if err != nil {
			return 0, err
		}
		if !d.probePort(port) {
			// Bound by something outside the engine; exclude and rescan.
			used = append(used, port)
			continue
		}
		d.reserved[port] = true
		d.logger.Debug("host port resolved", "port", port)
		return port, nil
	}
}

func (d *Deployer) releasePort(port int) {
	d.portMu.Lock()
	delete(d.reserved, port)
	d.portMu.Unlock()
}

// bindProbe checks that the port can actually be bound on the host.
func bindProbe(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
