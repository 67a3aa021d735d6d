package docker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/moby/go-archive"
)

// =============================================================================
// Image Build
// =============================================================================

// buildExcludes are never shipped in a build context. Mirrors the skip list
// of the source composer for trees that reach the builder unfiltered
// (union mounts expose the raw layers).
var buildExcludes = []string{".git", "__pycache__", "node_modules", ".coval"}

// buildMessage is one JSON message of the engine's build output stream.
// The engine reports build failures inside the stream, not as an HTTP error.
type buildMessage struct {
	Stream string `json:"stream"`
	Error  string `json:"error"`
}

// BuildImage tars contextDir and builds it into an image tagged tag.
// The context must contain a Dockerfile at its root. Base images are pulled
// as part of the build.
func (d *DockerClient) BuildImage(ctx context.Context, contextDir, tag string) error {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{
		ExcludePatterns: buildExcludes,
	})
	if err != nil {
		return NewDockerError("BuildImage", "image", tag, "failed to tar build context: "+err.Error(), ErrBuildFailed)
	}
	defer buildCtx.Close()

	resp, err := d.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		PullParent:  true,
	})
	if err != nil {
		return NewDockerError("BuildImage", "image", tag, err.Error(), ErrBuildFailed)
	}
	defer resp.Body.Close()

	diagnostic, err := drainBuildOutput(resp.Body)
	if err != nil {
		return NewDockerError("BuildImage", "image", tag, diagnostic, ErrBuildFailed)
	}

	return nil
}

// drainBuildOutput consumes the build stream until EOF. On failure it returns
// the engine's error message together with the last few stream lines, which
// usually carry the failing build step.
func drainBuildOutput(r io.Reader) (string, error) {
	const tailLines = 5
	var tail []string

	dec := json.NewDecoder(r)
	for {
		var msg buildMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return "", nil
			}
			return "malformed build output: " + err.Error(), err
		}

		if line := strings.TrimSpace(msg.Stream); line != "" {
			tail = append(tail, line)
			if len(tail) > tailLines {
				tail = tail[1:]
			}
		}

		if msg.Error != "" {
			diagnostic := msg.Error
			if len(tail) > 0 {
				diagnostic += " (" + strings.Join(tail, " | ") + ")"
			}
			return diagnostic, ErrBuildFailed
		}
	}
}
