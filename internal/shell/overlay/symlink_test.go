package overlay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymlinkComposer_RightBiasedMerge(t *testing.T) {
	current, ancestors := buildLineage(t)
	s := NewSymlinkComposer(nil)

	merged, err := s.Compose(context.Background(), current, ancestors, t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, mergedLineage, readTree(t, merged))
}

func TestSymlinkComposer_LinksPointAtWinningSource(t *testing.T) {
	current, ancestors := buildLineage(t)
	s := NewSymlinkComposer(nil)

	merged, err := s.Compose(context.Background(), current, ancestors, t.TempDir())
	require.NoError(t, err)

	// main.py exists in all three layers; the link must resolve to current.
	link := filepath.Join(merged, "main.py")
	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "merged entries are symlinks")

	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, current), "main.py should link into %s, got %s", current, target)

	// util.py only exists in the oldest ancestor.
	target, err = os.Readlink(filepath.Join(merged, "util.py"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, ancestors[0]), "util.py should link into %s, got %s", ancestors[0], target)
}

func TestSymlinkComposer_SkipsJunk(t *testing.T) {
	base := t.TempDir()
	current := filepath.Join(base, "iter-001")
	writeTree(t, current, map[string]string{
		"main.py":              "print('ok')",
		".git/HEAD":            "ref: refs/heads/main",
		"__pycache__/main.pyc": "bytecode",
	})
	s := NewSymlinkComposer(nil)

	merged, err := s.Compose(context.Background(), current, nil, t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main.py": "print('ok')"}, readTree(t, merged))
}

func TestSymlinkComposer_RecomposeReplacesStaleLinks(t *testing.T) {
	base := t.TempDir()
	v1 := filepath.Join(base, "iter-001")
	v2 := filepath.Join(base, "iter-002")
	writeTree(t, v1, map[string]string{"main.py": "print('v1')"})
	writeTree(t, v2, map[string]string{"main.py": "print('v2')"})
	stage := t.TempDir()
	s := NewSymlinkComposer(nil)

	_, err := s.Compose(context.Background(), v1, nil, stage)
	require.NoError(t, err)

	merged, err := s.Compose(context.Background(), v2, []string{v1}, stage)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"main.py": "print('v2')"}, readTree(t, merged))
}

func TestSymlinkComposer_MissingCurrent(t *testing.T) {
	s := NewSymlinkComposer(nil)

	_, err := s.Compose(context.Background(), filepath.Join(t.TempDir(), "nope"), nil, t.TempDir())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceMissing)
}
