package compose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const minimalSpec = `
services:
  app:
    image: nginx:latest
`

const appWithPortSpec = `
services:
  app:
    build: .
    ports:
      - "8080:3000"
    environment:
      NODE_ENV: production
`

const appWithHealthCheckSpec = `
services:
  app:
    build: .
    ports:
      - "8000:8000"
    healthcheck:
      test: ["CMD", "curl", "-f", "http://localhost:8000/healthz"]
      interval: 30s
      timeout: 10s
      retries: 5
      start_period: 5s
`

const appWithDependenciesSpec = `
services:
  db:
    image: postgres:15
    environment:
      POSTGRES_PASSWORD: secret

  app:
    build: .
    ports:
      - "5000:5000"
    depends_on:
      - db
`

const shellHealthCheckSpec = `
services:
  app:
    build: .
    healthcheck:
      test: curl -f http://localhost:9000/status || exit 1
      retries: 2
`

const healthCheckWithoutURLSpec = `
services:
  app:
    image: myapp:1.0
    healthcheck:
      test: ["CMD-SHELL", "pg_isready -U postgres"]
      interval: 15s
`

// =============================================================================
// FindComposeName Tests
// =============================================================================

func TestFindComposeName(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{
			name:  "standard name",
			paths: []string{"main.py", "docker-compose.yml", "requirements.txt"},
			want:  "docker-compose.yml",
		},
		{
			name:  "yaml extension",
			paths: []string{"docker-compose.yaml"},
			want:  "docker-compose.yaml",
		},
		{
			name:  "short name",
			paths: []string{"compose.yaml", "main.go"},
			want:  "compose.yaml",
		},
		{
			name:  "prefers canonical over short",
			paths: []string{"compose.yaml", "docker-compose.yml"},
			want:  "docker-compose.yml",
		},
		{
			name:  "nested compose files do not count",
			paths: []string{"deploy/docker-compose.yml", "main.py"},
			want:  "",
		},
		{
			name:  "no compose file",
			paths: []string{"main.py", "requirements.txt"},
			want:  "",
		},
		{
			name:  "empty listing",
			paths: nil,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindComposeName(tt.paths))
		})
	}
}

// =============================================================================
// ParseHints Tests
// =============================================================================

func TestParseHints_MinimalService(t *testing.T) {
	hints, err := ParseHints(minimalSpec)

	require.NoError(t, err)
	assert.Equal(t, "app", hints.ServiceName)
	assert.Zero(t, hints.ContainerPort)
	assert.Nil(t, hints.HealthCheck)
}

func TestParseHints_ContainerPortAndEnv(t *testing.T) {
	hints, err := ParseHints(appWithPortSpec)

	require.NoError(t, err)
	assert.Equal(t, 3000, hints.ContainerPort)
	assert.Equal(t, "production", hints.Environment["NODE_ENV"])
}

func TestParseHints_HealthCheck(t *testing.T) {
	hints, err := ParseHints(appWithHealthCheckSpec)

	require.NoError(t, err)
	require.NotNil(t, hints.HealthCheck)
	assert.Equal(t, "/healthz", hints.HealthCheck.Endpoint)
	assert.Equal(t, 30*time.Second, hints.HealthCheck.Interval)
	assert.Equal(t, 10*time.Second, hints.HealthCheck.Timeout)
	assert.Equal(t, 5, hints.HealthCheck.Retries)
}

func TestParseHints_PrimaryServiceHasBuild(t *testing.T) {
	// The service with a build section is the application under deployment;
	// plain-image services are its dependencies.
	hints, err := ParseHints(appWithDependenciesSpec)

	require.NoError(t, err)
	assert.Equal(t, "app", hints.ServiceName)
	assert.Equal(t, 5000, hints.ContainerPort)
}

func TestParseHints_ShellFormHealthCheck(t *testing.T) {
	hints, err := ParseHints(shellHealthCheckSpec)

	require.NoError(t, err)
	require.NotNil(t, hints.HealthCheck)
	assert.Equal(t, "/status", hints.HealthCheck.Endpoint)
	assert.Equal(t, 2, hints.HealthCheck.Retries)
	assert.Zero(t, hints.HealthCheck.Interval)
}

func TestParseHints_HealthCheckWithoutURL(t *testing.T) {
	// A test command with no probe URL still contributes its timings.
	hints, err := ParseHints(healthCheckWithoutURLSpec)

	require.NoError(t, err)
	require.NotNil(t, hints.HealthCheck)
	assert.Empty(t, hints.HealthCheck.Endpoint)
	assert.Equal(t, 15*time.Second, hints.HealthCheck.Interval)
}

func TestParseHints_EmptyInput(t *testing.T) {
	_, err := ParseHints("")

	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParseHints_WhitespaceOnlyInput(t *testing.T) {
	_, err := ParseHints("   \n\t  ")

	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParseHints_InvalidYAML(t *testing.T) {
	_, err := ParseHints("services:\n  app:\n    image: [unclosed")

	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParseHints_NotAMapping(t *testing.T) {
	_, err := ParseHints("- just\n- a\n- list\n")

	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParseHints_NoServices(t *testing.T) {
	_, err := ParseHints("volumes:\n  data:\n")

	assert.ErrorIs(t, err, ErrNoServices)
}

// =============================================================================
// extractEndpoint Tests
// =============================================================================

func TestExtractEndpoint(t *testing.T) {
	tests := []struct {
		name string
		test []string
		want string
	}{
		{
			name: "curl exec form",
			test: []string{"CMD", "curl", "-f", "http://localhost:8000/health"},
			want: "/health",
		},
		{
			name: "wget shell form",
			test: []string{"CMD-SHELL", "wget -q http://127.0.0.1:3000/api/ping || exit 1"},
			want: "/api/ping",
		},
		{
			name: "https",
			test: []string{"CMD", "curl", "https://localhost/ready"},
			want: "/ready",
		},
		{
			name: "url without path",
			test: []string{"CMD", "curl", "http://localhost:8000"},
			want: "",
		},
		{
			name: "root path only",
			test: []string{"CMD", "curl", "http://localhost:8000/"},
			want: "",
		},
		{
			name: "no url at all",
			test: []string{"CMD-SHELL", "pg_isready -U postgres"},
			want: "",
		},
		{
			name: "empty test",
			test: nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractEndpoint(tt.test))
		})
	}
}
