package compose

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/tom-sapletta-com/coval/internal/core/domain"
)

// =============================================================================
// Compose File Discovery
// =============================================================================

// CandidateNames are the compose file names recognized at the root of an
// iteration tree, in lookup order.
var CandidateNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// FindComposeName returns the first recognized compose file name present in a
// relative path listing of a tree root, or "" when the tree ships none.
// Only root-level entries count; a compose file in a subdirectory belongs to
// somebody else's build.
func FindComposeName(paths []string) string {
	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		if !strings.ContainsRune(p, '/') {
			present[p] = true
		}
	}
	for _, name := range CandidateNames {
		if present[name] {
			return name
		}
	}
	return ""
}

// =============================================================================
// Hint Extraction
// =============================================================================

// DeployHints carries what a compose file tells us about how to run the
// application: which container port it listens on, extra environment, and
// healthcheck parameters. Every field is optional; zero values mean the
// compose file was silent and the framework defaults apply.
type DeployHints struct {
	ServiceName   string
	ContainerPort int
	Environment   map[string]string
	HealthCheck   *domain.HealthCheckSpec
}

// ParseHints parses compose YAML and recovers deployment hints for the
// primary service. This is a pure function - no I/O, no side effects.
//
// The primary service is the one with a build section (the application being
// iterated; plain-image services are its dependencies), falling back to the
// alphabetically first service.
func ParseHints(yamlContent string) (*DeployHints, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	svc := primaryService(project)

	hints := &DeployHints{ServiceName: svc.Name}

	if len(svc.Ports) > 0 {
		hints.ContainerPort = int(svc.Ports[0].Target)
	}

	for k, v := range svc.Environment {
		if v == nil {
			continue
		}
		if hints.Environment == nil {
			hints.Environment = make(map[string]string)
		}
		hints.Environment[k] = *v
	}

	hints.HealthCheck = convertHealthCheck(svc.HealthCheck)

	return hints, nil
}

// loadProject runs the compose-go loader over in-memory YAML.
func loadProject(yamlContent string) (*types.Project, error) {
	// Pre-scan with yaml.v3: the loader's errors for non-mapping input are
	// unhelpful, so reject those up front.
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "compose file is not a mapping", ErrInvalidYAML)
	}
	if _, ok := dict["services"]; !ok {
		return nil, ErrNoServices
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("coval-discovery", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// In-memory input: nothing to resolve or include.
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidYAML)
	}

	return project, nil
}

// primaryService picks the service whose hints we deploy with.
func primaryService(project *types.Project) types.ServiceConfig {
	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if project.Services[name].Build != nil {
			return project.Services[name]
		}
	}
	return project.Services[names[0]]
}

// convertHealthCheck maps a compose healthcheck onto a partial
// domain.HealthCheckSpec overlay. Fields the compose file does not set stay
// zero so the framework defaults win in the merge. Returns nil when the
// service has no usable healthcheck.
func convertHealthCheck(hc *types.HealthCheckConfig) *domain.HealthCheckSpec {
	if hc == nil || hc.Disable {
		return nil
	}

	spec := &domain.HealthCheckSpec{}
	set := false

	if endpoint := extractEndpoint(hc.Test); endpoint != "" {
		spec.Endpoint = endpoint
		set = true
	}
	if hc.Interval != nil {
		spec.Interval = time.Duration(*hc.Interval)
		set = true
	}
	if hc.Timeout != nil {
		spec.Timeout = time.Duration(*hc.Timeout)
		set = true
	}
	if hc.Retries != nil {
		spec.Retries = int(*hc.Retries)
		set = true
	}

	if !set {
		return nil
	}
	return spec
}

// probeURLRegex matches the URL argument of a curl/wget style healthcheck test.
var probeURLRegex = regexp.MustCompile(`https?://[^\s"']+`)

// extractEndpoint recovers the HTTP path probed by a compose healthcheck test
// such as ["CMD", "curl", "-f", "http://localhost:8000/health"]. Returns ""
// when the test carries no URL with a path.
func extractEndpoint(test []string) string {
	match := probeURLRegex.FindString(strings.Join(test, " "))
	if match == "" {
		return ""
	}
	u, err := url.Parse(match)
	if err != nil || u.Path == "" || u.Path == "/" {
		return ""
	}
	return u.Path
}
