package deployment

import (
	"fmt"
	"path/filepath"
	"strings"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// ContainerName generates the container name for an iteration.
// Pattern: coval-{iterationID}
//
// Example:
//
//	ContainerName("iter-003") // returns "coval-iter-003"
func ContainerName(iterationID string) string {
	return fmt.Sprintf("coval-%s", SanitizeName(iterationID))
}

// ImageTag generates the image tag for an iteration build.
// Pattern: coval-{iterationID}:latest
//
// Example:
//
//	ImageTag("iter-003") // returns "coval-iter-003:latest"
func ImageTag(iterationID string) string {
	return fmt.Sprintf("coval-%s:latest", SanitizeName(iterationID))
}

// IterationDir resolves the source directory of an iteration under the
// iterations root.
// Pattern: {root}/iterations/{iterationID}
func IterationDir(root, iterationID string) string {
	return filepath.Join(root, "iterations", iterationID)
}

// BuildDir resolves the merged build tree directory for an iteration.
// Pattern: {root}/build/{iterationID}
func BuildDir(root, iterationID string) string {
	return filepath.Join(root, "build", iterationID)
}

// LogsPath resolves where container logs for an iteration are written.
// Pattern: {root}/logs/{iterationID}.log
func LogsPath(root, iterationID string) string {
	return filepath.Join(root, "logs", iterationID+".log")
}

// SanitizeName replaces characters the container engine rejects in resource
// names. The engine accepts [a-zA-Z0-9_.-]; everything else becomes a dash.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		valid := r >= 'a' && r <= 'z' ||
			r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' ||
			r == '_' || r == '.' || r == '-'
		if valid {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
