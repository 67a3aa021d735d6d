package api

import (
	"net/http"

	"github.com/tom-sapletta-com/coval/internal/core/domain"
	"github.com/tom-sapletta-com/coval/internal/shell/api/openapi"
)

// describeAPI registers every route with the spec generator. Keep this in
// step with Routes.
func describeAPI() *openapi.Generator {
	g := openapi.NewGenerator(
		openapi.WithTitle("Coval API"),
		openapi.WithVersion("1.0.0"),
		openapi.WithDescription("Deploys code iterations as containers and keeps them monitored."),
		openapi.WithServer("http://localhost:7070"),
	)

	g.Register(
		openapi.Endpoint{
			Method:      http.MethodGet,
			Path:        "/health",
			OperationID: "health",
			Summary:     "Liveness check",
			Tag:         "Health",
			Response:    HealthResponse{},
		},
		openapi.Endpoint{
			Method:      http.MethodGet,
			Path:        "/ready",
			OperationID: "ready",
			Summary:     "Readiness check",
			Tag:         "Health",
			Response:    ReadyResponse{},
		},
		openapi.Endpoint{
			Method:      http.MethodPost,
			Path:        "/api/v1/deployments",
			OperationID: "deployIteration",
			Summary:     "Deploy an iteration",
			Tag:         "Deployments",
			Request:     DeployRequest{},
			Response:    DeploymentResponse{},
			Status:      http.StatusCreated,
		},
		openapi.Endpoint{
			Method:      http.MethodGet,
			Path:        "/api/v1/deployments",
			OperationID: "listDeployments",
			Summary:     "List deployments",
			Tag:         "Deployments",
			Response:    ListDeploymentsResponse{},
			Query: []openapi.QueryParam{
				{Name: "all", Type: "boolean"},
				{Name: "limit", Type: "integer"},
				{Name: "offset", Type: "integer"},
			},
		},
		openapi.Endpoint{
			Method:      http.MethodPost,
			Path:        "/api/v1/deployments/cleanup",
			OperationID: "cleanupDeployments",
			Summary:     "Stop deployments beyond the retention count",
			Tag:         "Deployments",
			Request:     CleanupRequest{},
			Response:    CleanupResponse{},
		},
		openapi.Endpoint{
			Method:      http.MethodGet,
			Path:        "/api/v1/deployments/{iteration}",
			OperationID: "getDeployment",
			Summary:     "Get a deployment",
			Tag:         "Deployments",
			Response:    DeploymentResponse{},
		},
		openapi.Endpoint{
			Method:      http.MethodDelete,
			Path:        "/api/v1/deployments/{iteration}",
			OperationID: "removeDeployment",
			Summary:     "Stop a deployment and erase its record",
			Tag:         "Deployments",
			Status:      http.StatusNoContent,
		},
		openapi.Endpoint{
			Method:      http.MethodPost,
			Path:        "/api/v1/deployments/{iteration}/stop",
			OperationID: "stopDeployment",
			Summary:     "Stop a deployment",
			Tag:         "Deployments",
			Response:    DeploymentResponse{},
		},
		openapi.Endpoint{
			Method:      http.MethodGet,
			Path:        "/api/v1/deployments/{iteration}/report",
			OperationID: "deploymentReport",
			Summary:     "Health report for a monitored deployment",
			Tag:         "Monitoring",
			Response:    domain.HealthReport{},
		},
		openapi.Endpoint{
			Method:      http.MethodGet,
			Path:        "/api/v1/deployments/{iteration}/logs",
			OperationID: "deploymentLogs",
			Summary:     "Container logs for a deployment",
			Tag:         "Deployments",
			Response:    LogsResponse{},
			Query: []openapi.QueryParam{
				{Name: "tail", Type: "string"},
			},
		},
	)

	return g
}
