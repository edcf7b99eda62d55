package live

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sherpa-ai/sherpa/pkg/core"
	"github.com/sherpa-ai/sherpa/pkg/core/history"
	"github.com/sherpa-ai/sherpa/pkg/core/types"
	"github.com/sherpa-ai/sherpa/pkg/core/voice/stt"
	"github.com/sherpa-ai/sherpa/pkg/core/voice/tts"
)

// Generator produces one assistant reply from the ordered turn history.
type Generator interface {
	Generate(ctx context.Context, turns []types.Turn) (string, error)
}

// TranscriptStream is one live transcription session. *stt.Stream satisfies
// it.
type TranscriptStream interface {
	SendAudio(pcm []byte) error
	Finalize() error
	Deltas() <-chan stt.TranscriptDelta
	Err() error
	Close() error
}

// Transcriber opens transcription streams.
type Transcriber interface {
	NewStream(ctx context.Context, opts stt.StreamOptions) (TranscriptStream, error)
}

// Synthesizer opens streaming synthesis contexts.
type Synthesizer interface {
	NewStreamingContext(ctx context.Context, opts tts.StreamOptions) (*tts.StreamingContext, error)
}

// AudioSource delivers capture frames. Implementations must keep draining
// the device and drop frames when the consumer falls behind, so the device
// loop is never blocked by a slow pipeline stage.
type AudioSource interface {
	Frames() <-chan []byte
	Close() error
}

// AudioSink plays PCM audio. Reset discards anything buffered but not yet
// played, which is how barge-in cuts playback mid-utterance.
type AudioSink interface {
	Write(pcm []byte) error
	Reset() error
	Close() error
}

// Deps are the collaborators a pipeline runs against.
type Deps struct {
	Generator   Generator
	Transcriber Transcriber
	Synthesizer Synthesizer
	Mic         AudioSource
	Speaker     AudioSink
	History     *history.Store
	Logger      *slog.Logger

	// OnState is called on every state transition. Optional.
	OnState func(from, to PipelineState)
	// OnTurn is called for every finalized conversation turn. Optional.
	OnTurn func(turn types.Turn)
}

// Pipeline runs one intervention conversation as an explicit state machine:
// Idle, Greeting, Listening, Thinking, Speaking, Closing, Closed. Each state
// has one handler, a wall-clock budget, and a deterministic fallback to
// Closing, so the session always terminates even when every boundary fails.
type Pipeline struct {
	config PipelineConfig
	deps   Deps
	logger *slog.Logger

	mu           sync.Mutex
	state        PipelineState
	apology      bool   // a boundary failed twice; close with the apology line
	farewellText string // goodbye reply from the model, spoken during Closing
	pendingText  string // assistant reply queued for Speaking
}

// NewPipeline creates a pipeline in the Idle state.
func NewPipeline(config PipelineConfig, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		config: config,
		deps:   deps,
		logger: logger,
		state:  StateIdle,
	}
}

// State returns the current pipeline state.
func (p *Pipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run drives the conversation to completion. It returns nil on every normal
// outcome including cancellation; shutdown is an expected way for a session
// to end, not a failure.
func (p *Pipeline) Run(ctx context.Context) error {
	state := StateGreeting
	for state != StateClosed {
		if ctx.Err() != nil {
			break
		}
		p.setState(state)
		switch state {
		case StateGreeting:
			state = p.runGreeting(ctx)
		case StateListening:
			state = p.runListening(ctx)
		case StateThinking:
			state = p.runThinking(ctx)
		case StateSpeaking:
			state = p.runSpeaking(ctx)
		case StateClosing:
			state = p.runClosing(ctx)
		default:
			state = StateClosing
		}
	}
	p.setState(StateClosed)
	return nil
}

func (p *Pipeline) setState(next PipelineState) {
	p.mu.Lock()
	prev := p.state
	p.state = next
	p.mu.Unlock()

	if prev != next {
		p.logger.Debug("pipeline state", "from", prev.String(), "to", next.String())
		if p.deps.OnState != nil {
			p.deps.OnState(prev, next)
		}
	}
}

func (p *Pipeline) appendTurn(speaker types.Speaker, text string) {
	turn := p.deps.History.Append(speaker, text)
	if p.deps.OnTurn != nil {
		p.deps.OnTurn(turn)
	}
}

// noteFailure records that a boundary failed past its retry, which turns
// Closing into the apology path.
func (p *Pipeline) noteFailure(stage string, err error) {
	p.logger.Warn("stage failed, closing session", "stage", stage, "error", err)
	p.mu.Lock()
	p.apology = true
	p.mu.Unlock()
}

// failover picks the state after an unrecoverable stage error: Closed when
// the whole session was cancelled, Closing otherwise.
func (p *Pipeline) failover(parent context.Context, stage string, err error) PipelineState {
	if parent.Err() != nil {
		return StateClosed
	}
	if core.IsCancelled(err) {
		// stage budget expired
		err = core.NewTimeout(stage + " exceeded its budget")
	}
	p.noteFailure(stage, err)
	return StateClosing
}

// withRetry runs a boundary call and retries it once after a backoff when
// the failure is recoverable.
func (p *Pipeline) withRetry(ctx context.Context, stage string, fn func() error) error {
	err := fn()
	if err == nil || !core.IsRecoverable(err) || ctx.Err() != nil {
		return err
	}
	p.logger.Warn("boundary call failed, retrying", "stage", stage, "error", err)
	select {
	case <-time.After(p.config.RetryBackoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	return fn()
}

func (p *Pipeline) runGreeting(parent context.Context) PipelineState {
	ctx, cancel := context.WithTimeout(parent, p.config.Timeouts.Greeting)
	defer cancel()

	p.appendTurn(types.SpeakerAssistant, OpeningLine)
	err := p.withRetry(ctx, "greeting", func() error {
		_, err := p.speak(ctx, OpeningLine, false)
		return err
	})
	if err != nil {
		return p.failover(parent, "greeting", err)
	}
	return StateListening
}

func (p *Pipeline) runListening(parent context.Context) PipelineState {
	ctx, cancel := context.WithTimeout(parent, p.config.Timeouts.Listening)
	defer cancel()

	var text string
	err := p.withRetry(ctx, "listening", func() error {
		var err error
		text, err = p.listenOnce(ctx)
		return err
	})
	if err != nil {
		return p.failover(parent, "listening", err)
	}
	p.appendTurn(types.SpeakerUser, text)
	return StateThinking
}

// listenOnce captures one accepted utterance: mic frames stream to the
// transcription boundary while the VAD watches energy; when trailing
// silence commits the utterance, the accumulated transcript is kept only if
// it clears the confidence threshold, otherwise listening continues.
func (p *Pipeline) listenOnce(ctx context.Context) (string, error) {
	stream, err := p.deps.Transcriber.NewStream(ctx, stt.StreamOptions{
		SampleRate: p.config.Audio.SampleRate,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	vad := NewEnergyVAD(p.config.VAD)
	var finals []string
	var partial string

	assemble := func() string {
		text := strings.TrimSpace(strings.Join(finals, " "))
		if text == "" {
			text = strings.TrimSpace(partial)
		}
		return text
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case frame, ok := <-p.deps.Mic.Frames():
			if !ok {
				return "", core.NewDeviceError("capture stream ended", nil)
			}
			if err := stream.SendAudio(frame); err != nil {
				return "", core.NewBoundaryUnavailable("send capture audio", err)
			}
			if vad.ProcessFrame(frame, time.Now()) != VADCommit {
				continue
			}

			accepted := vad.Accepts()
			_ = stream.Finalize()
			p.drainDeltas(ctx, stream, &finals, &partial)
			text := assemble()
			if accepted && text != "" {
				return text, nil
			}
			// ambient noise or an empty transcript: discard and keep
			// listening
			p.logger.Debug("utterance discarded",
				"confidence", vad.Confidence(), "text", text)
			vad.Reset()
			finals = nil
			partial = ""

		case delta, ok := <-stream.Deltas():
			if !ok {
				if err := stream.Err(); err != nil {
					return "", err
				}
				return "", core.NewBoundaryUnavailable("transcription stream closed", nil)
			}
			if delta.IsFinal {
				if t := strings.TrimSpace(delta.Text); t != "" {
					finals = append(finals, t)
				}
				partial = ""
			} else {
				partial = delta.Text
			}
		}
	}
}

// drainDeltas collects transcript updates still in flight after Finalize,
// bounded by a short flush window.
func (p *Pipeline) drainDeltas(ctx context.Context, stream TranscriptStream, finals *[]string, partial *string) {
	flush := time.NewTimer(500 * time.Millisecond)
	defer flush.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-flush.C:
			return
		case delta, ok := <-stream.Deltas():
			if !ok {
				return
			}
			if delta.IsFinal {
				if t := strings.TrimSpace(delta.Text); t != "" {
					*finals = append(*finals, t)
				}
				*partial = ""
			} else {
				*partial = delta.Text
			}
		}
	}
}

func (p *Pipeline) runThinking(parent context.Context) PipelineState {
	ctx, cancel := context.WithTimeout(parent, p.config.Timeouts.Thinking)
	defer cancel()

	snapshot := p.deps.History.Snapshot()
	var reply string
	err := p.withRetry(ctx, "thinking", func() error {
		var err error
		reply, err = p.deps.Generator.Generate(ctx, snapshot)
		return err
	})
	if err != nil {
		return p.failover(parent, "thinking", err)
	}
	if ctx.Err() != nil {
		// budget expired while the reply was in flight; it must not be
		// appended after Closing has been decided
		return p.failover(parent, "thinking", ctx.Err())
	}

	text, closeSignal := StripCloseMarker(reply)
	if text == "" {
		text = fallbackFarewell
		closeSignal = true
	}
	p.appendTurn(types.SpeakerAssistant, text)

	if closeSignal || IsFarewell(text) {
		p.mu.Lock()
		p.farewellText = text
		p.mu.Unlock()
		return StateClosing
	}

	p.mu.Lock()
	p.pendingText = text
	p.mu.Unlock()
	return StateSpeaking
}

func (p *Pipeline) runSpeaking(parent context.Context) PipelineState {
	ctx, cancel := context.WithTimeout(parent, p.config.Timeouts.Speaking)
	defer cancel()

	p.mu.Lock()
	text := p.pendingText
	p.mu.Unlock()

	var interrupted bool
	err := p.withRetry(ctx, "speaking", func() error {
		var err error
		interrupted, err = p.speak(ctx, text, true)
		return err
	})
	if err != nil {
		return p.failover(parent, "speaking", err)
	}
	if interrupted {
		p.logger.Debug("barge-in, cutting playback")
	}
	return StateListening
}

func (p *Pipeline) runClosing(parent context.Context) PipelineState {
	if parent.Err() != nil {
		return StateClosed
	}
	ctx, cancel := context.WithTimeout(parent, p.config.Timeouts.Closing)
	defer cancel()

	p.mu.Lock()
	apology := p.apology
	text := p.farewellText
	p.mu.Unlock()

	switch {
	case apology:
		text = apologyLine
		p.appendTurn(types.SpeakerAssistant, text)
	case text == "":
		text = fallbackFarewell
		p.appendTurn(types.SpeakerAssistant, text)
	}

	// best effort, one attempt; a dead speaker must not keep the session
	// open
	if _, err := p.speak(ctx, text, false); err != nil {
		p.logger.Warn("farewell playback failed", "error", err)
	}
	return StateClosed
}

// speak synthesizes text and plays it. With barge-in armed, a voiced input
// frame during playback resets the sink and returns interrupted=true; the
// spoken turn stays recorded in full either way.
func (p *Pipeline) speak(ctx context.Context, text string, bargeIn bool) (interrupted bool, err error) {
	sc, err := p.deps.Synthesizer.NewStreamingContext(ctx, tts.StreamOptions{
		Voice:      p.config.Voice,
		SampleRate: p.config.Audio.SampleRate,
	})
	if err != nil {
		return false, err
	}
	defer sc.Close()

	if err := sc.SendText(text, true); err != nil {
		return false, core.NewBoundaryUnavailable("send synthesis text", err)
	}

	// start measures playback, not synthesis: the clock runs from the first
	// chunk written to the sink, so synthesis latency never eats into the
	// drain window below
	var start time.Time
	totalBytes := 0
	audio := sc.Audio()
	frames := p.deps.Mic.Frames()
	for audio != nil {
		select {
		case <-ctx.Done():
			_ = p.deps.Speaker.Reset()
			return false, ctx.Err()

		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if bargeIn && CalculateVolume(frame) >= p.config.VAD.MinVolume {
				_ = p.deps.Speaker.Reset()
				return true, nil
			}

		case chunk, ok := <-audio:
			if !ok {
				if err := sc.Err(); err != nil {
					return false, err
				}
				audio = nil
				continue
			}
			if totalBytes == 0 {
				start = time.Now()
			}
			if err := p.deps.Speaker.Write(chunk); err != nil {
				return false, core.NewDeviceError("playback write", err)
			}
			totalBytes += len(chunk)
		}
	}

	// the sink buffers ahead of the hardware; hold the state until the
	// written audio has had time to actually play out
	playback := time.Duration(p.config.Audio.DurationMs(totalBytes)) * time.Millisecond
	remaining := playback - time.Since(start)
	if remaining <= 0 {
		return false, nil
	}
	drain := time.NewTimer(remaining)
	defer drain.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = p.deps.Speaker.Reset()
			return false, ctx.Err()
		case <-drain.C:
			return false, nil
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if bargeIn && CalculateVolume(frame) >= p.config.VAD.MinVolume {
				_ = p.deps.Speaker.Reset()
				return true, nil
			}
		}
	}
}
