package deployment

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
)

// =============================================================================
// Language Detection
// =============================================================================

// LanguageUnknown is returned when no known language can be inferred.
const LanguageUnknown = "unknown"

// languageByExtension maps file extensions to their language.
var languageByExtension = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".go":   "go",
	".rs":   "rust",
	".java": "java",
	".php":  "php",
	".rb":   "ruby",
}

// DetectLanguage infers the primary language of a source tree from a census
// of its file names: the most common known extension wins. Manifests decide
// when the census is inconclusive (requirements.txt or pyproject.toml means
// python, go.mod means go, package.json means javascript).
func DetectLanguage(paths []string) string {
	counts := make(map[string]int)
	manifests := make(map[string]bool)

	for _, p := range paths {
		base := filepath.Base(p)
		manifests[base] = true
		ext := strings.ToLower(filepath.Ext(p))
		if _, known := languageByExtension[ext]; known {
			counts[ext]++
		}
	}

	if len(counts) > 0 {
		exts := make([]string, 0, len(counts))
		for ext := range counts {
			exts = append(exts, ext)
		}
		// Highest count first; ties break on name for determinism.
		sort.Slice(exts, func(i, j int) bool {
			if counts[exts[i]] != counts[exts[j]] {
				return counts[exts[i]] > counts[exts[j]]
			}
			return exts[i] < exts[j]
		})
		return languageByExtension[exts[0]]
	}

	switch {
	case manifests["requirements.txt"] || manifests["pyproject.toml"]:
		return "python"
	case manifests["go.mod"]:
		return "go"
	case manifests["package.json"]:
		return "javascript"
	}

	return LanguageUnknown
}

// =============================================================================
// Framework Detection
// =============================================================================

// FrameworkUnknown is returned when no known framework can be inferred.
const FrameworkUnknown = "unknown"

// packageManifest is the subset of package.json consulted for detection.
type packageManifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// DetectFramework infers the application framework from manifest contents.
// requirementsTxt is the raw content of requirements.txt (empty when absent);
// packageJSON is the raw content of package.json (nil when absent).
func DetectFramework(requirementsTxt string, packageJSON []byte) string {
	reqs := strings.ToLower(requirementsTxt)
	switch {
	case strings.Contains(reqs, "fastapi"):
		return "fastapi"
	case strings.Contains(reqs, "flask"):
		return "flask"
	case strings.Contains(reqs, "django"):
		return "django"
	}

	if len(packageJSON) > 0 {
		var manifest packageManifest
		if err := json.Unmarshal(packageJSON, &manifest); err == nil {
			deps := make(map[string]bool, len(manifest.Dependencies)+len(manifest.DevDependencies))
			for name := range manifest.Dependencies {
				deps[name] = true
			}
			for name := range manifest.DevDependencies {
				deps[name] = true
			}
			switch {
			case deps["express"]:
				return "express"
			case deps["next"]:
				return "nextjs"
			case deps["react"]:
				return "react"
			}
		}
	}

	return FrameworkUnknown
}
