package deployment

import "strconv"

// RuntimeEnv builds the environment injected into a deployed container.
// The application reads PORT to know where to listen; the COVAL_* variables
// carry iteration metadata for diagnostics.
func RuntimeEnv(iterationID, framework, language string, port int) map[string]string {
	return map[string]string{
		"COVAL_ITERATION_ID": iterationID,
		"COVAL_FRAMEWORK":    framework,
		"COVAL_LANGUAGE":     language,
		"PORT":               strconv.Itoa(port),
	}
}
