// Package e2e provides end-to-end tests for the coval daemon.
//
// These tests require a running Docker daemon and will build images and
// create/destroy real containers. Run with:
//
//	go test -v -timeout 15m ./tests/e2e/...
package e2e

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"testing"

	"github.com/tom-sapletta-com/coval/internal/shell/api"
	"github.com/tom-sapletta-com/coval/internal/shell/deployer"
	"github.com/tom-sapletta-com/coval/internal/shell/docker"
	"github.com/tom-sapletta-com/coval/internal/shell/monitor"
	"github.com/tom-sapletta-com/coval/internal/shell/overlay"
	"github.com/tom-sapletta-com/coval/internal/shell/store"
)

// =============================================================================
// Test Globals
// =============================================================================

var (
	testStore   store.Store
	testDocker  *docker.DockerClient
	testMonitor *monitor.Monitor
	testClient  *http.Client
	baseURL     string
	testServer  *http.Server
	testRoot    string
)

// Host ports the suite may hand out. Narrow and high to stay clear of
// anything else running on the machine.
const (
	e2eBasePort = 18000
	e2eMaxPort  = 18099
)

// =============================================================================
// TestMain Setup
// =============================================================================

func TestMain(m *testing.M) {
	code := setup()
	if code != 0 {
		os.Exit(code)
	}

	result := m.Run()

	teardown()

	os.Exit(result)
}

func setup() int {
	log.Println("E2E Setup: Initializing test environment...")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// 1. Create the workspace and database under a temp dir
	tmpDir, err := os.MkdirTemp("", "coval_e2e_")
	if err != nil {
		log.Printf("Failed to create temp dir: %v", err)
		return 1
	}
	testRoot = filepath.Join(tmpDir, "workspace")
	log.Printf("E2E Setup: Using workspace: %s", testRoot)

	s, err := store.NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		log.Printf("Failed to create store: %v", err)
		return 1
	}
	testStore = s
	log.Println("E2E Setup: SQLite store initialized")

	// 2. Connect to the container engine
	d, err := docker.NewDockerClient("")
	if err != nil {
		log.Printf("Failed to create Docker client: %v", err)
		return 1
	}
	testDocker = d

	if err := d.Ping(context.Background()); err != nil {
		log.Printf("Failed to ping Docker: %v", err)
		log.Println("Make sure Docker daemon is running")
		return 1
	}
	log.Println("E2E Setup: Docker daemon is reachable")

	// 3. Cleanup any leftover test containers
	log.Println("E2E Setup: Cleaning up any leftover test containers...")
	if err := CleanupAllTestResources(context.Background(), d); err != nil {
		log.Printf("WARN: Failed to cleanup old containers: %v", err)
	}

	// 4. Wire the engine the way the daemon does
	composer, err := overlay.NewComposer(overlay.StrategyUnion, logger)
	if err != nil {
		log.Printf("Failed to create composer: %v", err)
		return 1
	}

	testMonitor = monitor.NewMonitor(monitor.Config{Interval: 5 * time.Second}, logger)

	dep := deployer.New(deployer.Config{
		Root:       testRoot,
		BasePort:   e2eBasePort,
		MaxPort:    e2eMaxPort,
		Network:    "coval-e2e",
		HealthWait: 90 * time.Second,
	}, deployer.Deps{
		Store:      s,
		Containers: docker.NewManager(d, logger),
		Images:     d,
		Composer:   composer,
		Monitor:    testMonitor,
	}, logger)

	handler := api.NewHandler(dep, testMonitor, s, d, logger)
	log.Println("E2E Setup: HTTP handler created")

	// 5. Serve on a random port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Printf("Failed to find available port: %v", err)
		return 1
	}
	port := listener.Addr().(*net.TCPAddr).Port
	baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	log.Printf("E2E Setup: Server will listen on port %d", port)

	testServer = &http.Server{
		Handler: handler.Routes(),
	}

	go func() {
		if err := testServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()
	log.Println("E2E Setup: HTTP server started")

	// Image pulls and builds run inside deploy requests, so the client
	// timeout has to cover a cold build.
	testClient = &http.Client{
		Timeout: 8 * time.Minute,
	}

	if err := waitForReady(baseURL+"/health", 10*time.Second); err != nil {
		log.Printf("Server failed to become ready: %v", err)
		return 1
	}
	log.Println("E2E Setup: Server is ready")

	log.Println("E2E Setup: Complete!")
	return 0
}

func teardown() {
	log.Println("E2E Teardown: Cleaning up...")

	if testServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		testServer.Shutdown(ctx)
		log.Println("E2E Teardown: HTTP server stopped")
	}

	if testMonitor != nil {
		testMonitor.StopAll()
		log.Println("E2E Teardown: Monitoring stopped")
	}

	if testDocker != nil {
		CleanupAllTestResources(context.Background(), testDocker)
		testDocker.Close()
		log.Println("E2E Teardown: Docker client closed")
	}

	if testStore != nil {
		testStore.Close()
		log.Println("E2E Teardown: Database closed")
	}

	log.Println("E2E Teardown: Complete!")
}

// waitForReady polls the health endpoint until it responds.
func waitForReady(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}
