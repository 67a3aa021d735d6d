package deployment

// =============================================================================
// Container Plan Building Functions
// =============================================================================

// Label keys used for coval container identification.
const (
	LabelManaged   = "com.coval.managed"
	LabelIteration = "com.coval.iteration"
	LabelFramework = "com.coval.framework"
	LabelLanguage  = "com.coval.language"
)

// DefaultRestartPolicy keeps deployed applications up across engine restarts
// until an explicit stop.
const DefaultRestartPolicy = "unless-stopped"

// ContainerPlan is the planned configuration for one deployment container.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Name          string
	Image         string
	Env           map[string]string
	Labels        map[string]string
	ContainerPort int
	HostPort      int
	RestartPolicy string
}

// ContainerPlanParams contains all inputs for building a container plan.
type ContainerPlanParams struct {
	IterationID string
	Language    string
	Framework   string
	HostPort    int

	// ContainerPort is the port the application listens on inside the
	// container. Zero means nothing declared one, and the host port number
	// is reused (the PORT env tells the application where to listen).
	ContainerPort int

	// ExtraEnv carries environment declared by a compose file in the
	// iteration tree. Values may reference runtime variables as ${PORT}
	// or ${PORT:-default}.
	ExtraEnv map[string]string
}

// BuildContainerPlan builds a ContainerPlan from iteration metadata and the
// resolved host port.
//
// The function:
//   - Derives the container name and image tag from the iteration ID
//   - Injects the runtime environment (COVAL_* metadata plus PORT)
//   - Substitutes ${VAR} placeholders in compose-declared environment
//     against the runtime variables, with the runtime values winning on
//     conflict so the application always listens on the allocated port
//   - Attaches com.coval.* ownership labels
//   - Defaults the container port to the host port number
//
// Example:
//
//	plan := BuildContainerPlan(ContainerPlanParams{
//	    IterationID: "iter-003",
//	    Language:    "python",
//	    Framework:   "fastapi",
//	    HostPort:    8002,
//	})
//	// plan.Name == "coval-iter-003", plan.Env["PORT"] == "8002"
func BuildContainerPlan(params ContainerPlanParams) ContainerPlan {
	runtime := RuntimeEnv(params.IterationID, params.Framework, params.Language, params.HostPort)

	env := make(map[string]string, len(params.ExtraEnv)+len(runtime))
	for k, v := range params.ExtraEnv {
		env[k] = SubstituteVariables(v, runtime)
	}
	for k, v := range runtime {
		env[k] = v
	}

	containerPort := params.ContainerPort
	if containerPort == 0 {
		containerPort = params.HostPort
	}

	return ContainerPlan{
		Name:  ContainerName(params.IterationID),
		Image: ImageTag(params.IterationID),
		Env:   env,
		Labels: map[string]string{
			LabelManaged:   "true",
			LabelIteration: params.IterationID,
			LabelFramework: params.Framework,
			LabelLanguage:  params.Language,
		},
		ContainerPort: containerPort,
		HostPort:      params.HostPort,
		RestartPolicy: DefaultRestartPolicy,
	}
}
