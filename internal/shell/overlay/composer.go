// Package overlay merges iteration source trees into a single build tree.
//
// A deployment builds from the union of the current iteration's files and its
// ancestor chain, the most recent version of every path winning. Three
// strategies produce the merged tree: an overlay filesystem mount, a physical
// copy, and a symlink farm. The union strategy falls back to copy on hosts
// where overlay mounts are unavailable.
package overlay

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// Composer Interface
// =============================================================================

// Strategy names accepted in config.
const (
	StrategyUnion   = "overlay"
	StrategyCopy    = "copy"
	StrategySymlink = "symlink"
)

// Composer produces one merged source tree from a current iteration and its
// ancestor chain. Ancestors are ordered oldest to newest; for every relative
// path the most recent tree containing it wins, and the current tree always
// wins. stageDir holds the merged tree and any strategy staging; the returned
// path is the merged root to build from.
type Composer interface {
	Compose(ctx context.Context, current string, ancestors []string, stageDir string) (merged string, err error)
}

// NewComposer selects a composition strategy by its config name.
func NewComposer(strategy string, logger *slog.Logger) (Composer, error) {
	switch strategy {
	case StrategyUnion:
		return NewUnionComposer(logger), nil
	case StrategyCopy:
		return NewCopyComposer(logger), nil
	case StrategySymlink:
		return NewSymlinkComposer(logger), nil
	default:
		return nil, NewOverlayError("NewComposer", "", "strategy "+strategy, ErrUnknownStrategy)
	}
}

// =============================================================================
// Tree Helpers
// =============================================================================

// skippedDirs never enter a merged tree. VCS metadata and build caches are
// dead weight in an image build context.
var skippedDirs = map[string]bool{
	".git":         true,
	"__pycache__":  true,
	"node_modules": true,
	".coval":       true,
}

func skipDir(name string) bool {
	return skippedDirs[name]
}

func skipFile(name string) bool {
	return strings.HasSuffix(name, ".pyc")
}

// copyTree copies src into dst, overwriting existing files. Later calls over
// the same dst implement the right-biased merge.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0755)
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return fs.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0755)
		}
		if skipFile(d.Name()) {
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil // sockets, devices and the like
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

// copyFile copies one file, following symlinks and carrying the source mode
// onto the destination so executable bits survive the merge.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return nil // symlink to a directory, not carried over
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// An overwritten file keeps its old mode; the winner's mode must stick.
	return os.Chmod(dst, info.Mode().Perm())
}

// indexTree records every file under root into index, keyed by relative path.
// Later calls overwrite earlier entries, which is how newer layers win.
func indexTree(root string, index map[string]string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if skipFile(d.Name()) {
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		index[rel] = path
		return nil
	})
}
