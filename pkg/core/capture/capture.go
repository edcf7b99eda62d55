// Package capture acquires screen observations as PNG bytes.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/sherpa-ai/sherpa/pkg/core"
)

// maxWidth bounds the capture width for judge API efficiency; taller
// screens keep their aspect ratio.
const maxWidth = 1280

// Grabber produces one screen observation per call.
type Grabber interface {
	Grab(ctx context.Context) ([]byte, error)
}

// FFmpegGrabber captures the primary display through an ffmpeg subprocess,
// one frame per call, encoded as PNG on stdout.
type FFmpegGrabber struct {
	goos string
}

// NewFFmpegGrabber validates that ffmpeg is available and returns a grabber
// for the current platform.
func NewFFmpegGrabber() (*FFmpegGrabber, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, core.NewDeviceError("ffmpeg is required for screen capture (install ffmpeg and ensure it is in PATH)", err)
	}
	g := &FFmpegGrabber{goos: runtime.GOOS}
	if _, err := grabArgs(g.goos); err != nil {
		return nil, err
	}
	return g, nil
}

func grabArgs(goos string) ([]string, error) {
	scale := fmt.Sprintf("scale='min(%d,iw)':-1", maxWidth)
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-capture_cursor", "1", "-i", "1:none",
			"-frames:v", "1",
			"-vf", scale,
			"-f", "image2pipe", "-vcodec", "png", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "x11grab", "-i", ":0.0",
			"-frames:v", "1",
			"-vf", scale,
			"-f", "image2pipe", "-vcodec", "png", "-",
		}, nil
	default:
		return nil, core.NewDeviceError(fmt.Sprintf("screen capture is not implemented for %s; supported platforms: darwin, linux", goos), nil)
	}
}

// Grab captures one frame of the primary display as PNG bytes.
func (g *FFmpegGrabber) Grab(ctx context.Context) ([]byte, error) {
	args, err := grabArgs(g.goos)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.NewDeviceError("capture screen frame", err)
	}
	if out.Len() == 0 {
		return nil, core.NewDeviceError("capture produced no image data", nil)
	}
	return out.Bytes(), nil
}
