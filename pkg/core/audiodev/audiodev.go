// Package audiodev provides the duplex raw audio transport: microphone
// capture and speaker playback through ffmpeg/ffplay subprocesses.
package audiodev

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"

	"github.com/sherpa-ai/sherpa/pkg/core"
	"github.com/sherpa-ai/sherpa/pkg/core/live"
)

const frameBytes = 1024

// Mic captures raw s16le PCM from the default input device via an ffmpeg
// subprocess. Frames are delivered on a buffered channel; when the consumer
// falls behind, frames are dropped rather than stalling the device read
// loop.
type Mic struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	frames chan []byte

	closeOnce sync.Once
}

// NewMic starts microphone capture with the given stream format.
func NewMic(config live.AudioConfig) (*Mic, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, core.NewDeviceError("ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)", err)
	}
	args, err := micArgs(runtime.GOOS, config)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.NewDeviceError("open ffmpeg stdout", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, core.NewDeviceError("start ffmpeg mic capture", err)
	}

	m := &Mic{
		cmd:    cmd,
		stdout: stdout,
		frames: make(chan []byte, 64),
	}
	go m.readLoop()
	return m, nil
}

func micArgs(goos string, config live.AudioConfig) ([]string, error) {
	rate := fmt.Sprintf("%d", config.SampleRate)
	channels := fmt.Sprintf("%d", config.Channels)
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", channels, "-ar", rate,
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", channels, "-ar", rate,
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, core.NewDeviceError(fmt.Sprintf("mic capture is not implemented for %s; supported platforms: darwin, linux", goos), nil)
	}
}

func (m *Mic) readLoop() {
	defer close(m.frames)
	buf := make([]byte, frameBytes)
	for {
		n, err := m.stdout.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			select {
			case m.frames <- frame:
			default:
				// consumer is behind; dropping keeps the device drained
			}
		}
		if err != nil {
			return
		}
	}
}

// Frames returns the capture frame channel. It is closed when the device
// stream ends.
func (m *Mic) Frames() <-chan []byte {
	return m.frames
}

// Close stops the capture subprocess.
func (m *Mic) Close() error {
	m.closeOnce.Do(func() {
		if m.cmd != nil && m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
			_ = m.cmd.Wait()
		}
	})
	return nil
}

// Player plays raw s16le PCM through an ffplay subprocess. Reset kills and
// restarts the subprocess, discarding any buffered audio; that is the
// barge-in cutoff path.
type Player struct {
	config live.AudioConfig

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewPlayer starts playback with the given stream format.
func NewPlayer(config live.AudioConfig) (*Player, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, core.NewDeviceError("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)", err)
	}
	p := &Player{config: config}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.startLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Player) startLocked() error {
	p.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", p.config.SampleRate),
		"-ac", fmt.Sprintf("%d", p.config.Channels),
		"-i", "pipe:0",
	)
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return core.NewDeviceError("open ffplay stdin", err)
	}
	p.cmd.Stdout = io.Discard
	p.cmd.Stderr = io.Discard
	if err := p.cmd.Start(); err != nil {
		return core.NewDeviceError("start ffplay", err)
	}
	p.stdin = stdin
	return nil
}

// Write queues PCM for playback.
func (p *Player) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return core.NewDeviceError("playback is not running", errors.New("ffplay stdin is not initialized"))
	}
	if _, err := p.stdin.Write(pcm); err != nil {
		return core.NewDeviceError("write playback audio", err)
	}
	return nil
}

// Reset discards buffered audio by restarting the playback subprocess.
func (p *Player) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return p.startLocked()
}

// Close stops the playback subprocess.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	p.stdin = nil
	p.cmd = nil
}
