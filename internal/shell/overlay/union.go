package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// =============================================================================
// Union Mount Strategy
// =============================================================================

// UnionComposer merges through an overlay filesystem mount: the current
// iteration is staged as the writable upper layer and the ancestor trees are
// mounted read-only in place, newest nearest the top, so no ancestor bytes
// are copied. When the mount is unavailable (missing privileges, unsupported
// filesystem) or yields a read-only view, composition falls back to the copy
// strategy; callers never see the difference.
type UnionComposer struct {
	logger   *slog.Logger
	fallback *CopyComposer

	// run executes an external command, swapped out in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewUnionComposer creates a union-mount composer with a copy fallback.
func NewUnionComposer(logger *slog.Logger) *UnionComposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnionComposer{
		logger:   logger,
		fallback: NewCopyComposer(logger),
		run:      runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Compose mounts an overlay of the ancestor chain under the staged current
// tree at stageDir/merged. With no ancestors the union degenerates to the
// current tree alone and the copy strategy is used directly.
func (u *UnionComposer) Compose(ctx context.Context, current string, ancestors []string, stageDir string) (string, error) {
	if _, err := os.Stat(current); err != nil {
		return "", NewOverlayError("Compose", current, "current iteration tree missing", ErrSourceMissing)
	}

	// Lower layers: ancestors newest-first, the order overlayfs resolves in.
	var lowers []string
	for i := len(ancestors) - 1; i >= 0; i-- {
		anc := ancestors[i]
		if _, err := os.Stat(anc); err != nil {
			u.logger.Warn("ancestor tree missing, skipping", "path", anc)
			continue
		}
		abs, err := filepath.Abs(anc)
		if err != nil {
			return "", NewOverlayError("Compose", anc, err.Error(), err)
		}
		lowers = append(lowers, abs)
	}
	if len(lowers) == 0 {
		u.logger.Debug("no ancestor layers, composing by copy")
		return u.fallback.Compose(ctx, current, ancestors, stageDir)
	}

	upper := filepath.Join(stageDir, "upper")
	work := filepath.Join(stageDir, "work")
	merged := filepath.Join(stageDir, "merged")
	for _, dir := range []string{upper, work, merged} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", NewOverlayError("Compose", dir, err.Error(), err)
		}
	}

	if err := copyTree(current, upper); err != nil {
		return "", NewOverlayError("Compose", current, err.Error(), err)
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", strings.Join(lowers, ":"), upper, work)
	out, err := u.run(ctx, "mount", "-t", "overlay", "overlay", "-o", opts, merged)
	if err != nil {
		u.logger.Warn("overlay mount failed, falling back to copy",
			"error", err, "output", strings.TrimSpace(string(out)))
		return u.fallback.Compose(ctx, current, ancestors, stageDir)
	}

	// A mount can succeed yet come up read-only, which would break the
	// application at runtime. Probe before trusting it.
	if err := u.probeWritable(merged); err != nil {
		u.logger.Warn("merged mount is not writable, falling back to copy", "error", err)
		if out, uerr := u.run(ctx, "umount", merged); uerr != nil {
			u.logger.Warn("unmount failed", "path", merged, "output", strings.TrimSpace(string(out)))
		}
		return u.fallback.Compose(ctx, current, ancestors, stageDir)
	}

	u.logger.Info("overlay filesystem mounted", "merged", merged, "layers", len(lowers)+1)
	return merged, nil
}

// probeWritable smoke-tests the merged root with a create and delete.
func (u *UnionComposer) probeWritable(dir string) error {
	probe := filepath.Join(dir, ".coval-write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return err
	}
	return os.Remove(probe)
}
