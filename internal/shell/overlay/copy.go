package overlay

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
)

// =============================================================================
// Copy Strategy
// =============================================================================

// CopyComposer merges by physically copying layers into the target, oldest
// ancestor first and the current iteration last, later copies overwriting
// earlier ones. Slowest strategy but works everywhere, which also makes it
// the fallback for the union strategy.
type CopyComposer struct {
	logger *slog.Logger
}

// NewCopyComposer creates a copy-based composer.
func NewCopyComposer(logger *slog.Logger) *CopyComposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CopyComposer{logger: logger}
}

// Compose copies ancestors oldest to newest into stageDir/merged, then the
// current tree on top. Missing ancestors are skipped; a missing current tree
// is an error.
func (c *CopyComposer) Compose(ctx context.Context, current string, ancestors []string, stageDir string) (string, error) {
	if _, err := os.Stat(current); err != nil {
		return "", NewOverlayError("Compose", current, "current iteration tree missing", ErrSourceMissing)
	}

	merged := filepath.Join(stageDir, "merged")
	if err := os.MkdirAll(merged, 0755); err != nil {
		return "", NewOverlayError("Compose", merged, err.Error(), err)
	}

	for _, anc := range ancestors {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if _, err := os.Stat(anc); err != nil {
			c.logger.Warn("ancestor tree missing, skipping", "path", anc)
			continue
		}
		if err := copyTree(anc, merged); err != nil {
			return "", NewOverlayError("Compose", anc, err.Error(), err)
		}
		c.logger.Debug("copied ancestor layer", "path", anc)
	}

	if err := copyTree(current, merged); err != nil {
		return "", NewOverlayError("Compose", current, err.Error(), err)
	}
	c.logger.Debug("copied current layer", "path", current)

	return merged, nil
}
