package recording

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/de-ibh/b3lb/pkg/models"
)

// ComposeRenderer shells out to docker-compose to run one profile's
// transcode, mirroring the upload/render task's tar-extract-then-compose
// pipeline: every profile runs the same ComposeFile, with inDir, outDir and
// the profile's size and extension passed as B3LB_RENDER_* environment
// variables, and "up" is expected to exit once video.<ext> exists.
// Deployments that use a different renderer implement Renderer themselves;
// this is only the default wired into cmd/b3lb.
type ComposeRenderer struct {
	// ComposeFile is a path to a template rendered per-profile, or a fixed
	// compose file if the deployment's images read profile parameters from
	// environment variables instead. Either way this package never
	// transcodes media itself.
	ComposeFile string
}

func (r ComposeRenderer) Render(ctx context.Context, inDir, outDir string, profile models.RecordProfile) error {
	if r.ComposeFile == "" {
		return fmt.Errorf("recording: no compose file configured for profile %s", profile.Name)
	}

	cmd := exec.CommandContext(ctx, "docker-compose", "-f", r.ComposeFile, "up", "--abort-on-container-exit")
	cmd.Env = append(os.Environ(),
		"B3LB_RENDER_IN="+inDir,
		"B3LB_RENDER_OUT="+outDir,
		"B3LB_RENDER_WIDTH="+itoa(profile.Width),
		"B3LB_RENDER_HEIGHT="+itoa(profile.Height),
		"B3LB_RENDER_WEBCAM_SIZE="+itoa(profile.WebcamSize),
		"B3LB_RENDER_EXTENSION="+profile.Extension,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker-compose render failed: %w", err)
	}

	if _, err := os.Stat(filepath.Join(outDir, "video."+profile.Extension)); err != nil {
		return fmt.Errorf("render produced no output: %w", err)
	}
	return nil
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

// NoopRenderer refuses every render with an error, so a RecordSet rendered
// through it stays UPLOADED.
type NoopRenderer struct{}

func (NoopRenderer) Render(ctx context.Context, inDir, outDir string, profile models.RecordProfile) error {
	return fmt.Errorf("recording: rendering is disabled")
}
