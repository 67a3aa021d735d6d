package overlay

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// =============================================================================
// Symlink Strategy
// =============================================================================

// SymlinkComposer merges by materializing one symlink per winning path.
// Fastest and cheapest in space, but the merged tree is not isolated from
// later mutation of the source iterations and needs symlink support wherever
// the build runs.
type SymlinkComposer struct {
	logger *slog.Logger
}

// NewSymlinkComposer creates a symlink-based composer.
func NewSymlinkComposer(logger *slog.Logger) *SymlinkComposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SymlinkComposer{logger: logger}
}

// Compose indexes every file across ancestors (oldest to newest) and the
// current tree, newer entries overwriting older ones, then links each winning
// path into stageDir/merged.
func (s *SymlinkComposer) Compose(ctx context.Context, current string, ancestors []string, stageDir string) (string, error) {
	if _, err := os.Stat(current); err != nil {
		return "", NewOverlayError("Compose", current, "current iteration tree missing", ErrSourceMissing)
	}

	merged := filepath.Join(stageDir, "merged")
	if err := os.MkdirAll(merged, 0755); err != nil {
		return "", NewOverlayError("Compose", merged, err.Error(), err)
	}

	index := make(map[string]string)
	for _, anc := range ancestors {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if _, err := os.Stat(anc); err != nil {
			s.logger.Warn("ancestor tree missing, skipping", "path", anc)
			continue
		}
		if err := indexTree(anc, index); err != nil {
			return "", NewOverlayError("Compose", anc, err.Error(), err)
		}
	}
	if err := indexTree(current, index); err != nil {
		return "", NewOverlayError("Compose", current, err.Error(), err)
	}

	rels := make([]string, 0, len(index))
	for rel := range index {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	for _, rel := range rels {
		src, err := filepath.Abs(index[rel])
		if err != nil {
			return "", NewOverlayError("Compose", index[rel], err.Error(), err)
		}
		dst := filepath.Join(merged, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return "", NewOverlayError("Compose", dst, err.Error(), err)
		}
		// Clear a stale link from a previous compose of the same iteration.
		os.Remove(dst)
		if err := os.Symlink(src, dst); err != nil {
			return "", NewOverlayError("Compose", dst, err.Error(), err)
		}
	}

	s.logger.Debug("linked merged tree", "links", len(rels))
	return merged, nil
}
