package live

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sherpa-ai/sherpa/pkg/core"
	"github.com/sherpa-ai/sherpa/pkg/core/history"
	"github.com/sherpa-ai/sherpa/pkg/core/types"
	"github.com/sherpa-ai/sherpa/pkg/core/voice/stt"
	"github.com/sherpa-ai/sherpa/pkg/core/voice/tts"
)

type mockGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	delay   time.Duration // reply arrives this late, ignoring ctx
	calls   int
}

func (g *mockGenerator) Generate(ctx context.Context, turns []types.Turn) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "Okay.", nil
	}
	reply := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return reply, nil
}

func (g *mockGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type mockStream struct {
	mu       sync.Mutex
	deltas   chan stt.TranscriptDelta
	script   string
	finished bool
}

func newMockStream(script string) *mockStream {
	return &mockStream{
		deltas: make(chan stt.TranscriptDelta, 16),
		script: script,
	}
}

func (s *mockStream) SendAudio(pcm []byte) error { return nil }

func (s *mockStream) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.script == "" {
		return nil
	}
	s.finished = true
	s.deltas <- stt.TranscriptDelta{Text: s.script, IsFinal: true}
	return nil
}

func (s *mockStream) Deltas() <-chan stt.TranscriptDelta { return s.deltas }
func (s *mockStream) Err() error                         { return nil }
func (s *mockStream) Close() error                       { return nil }

type mockTranscriber struct {
	mu     sync.Mutex
	script string
	err    error
}

func (t *mockTranscriber) NewStream(ctx context.Context, opts stt.StreamOptions) (TranscriptStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return newMockStream(t.script), nil
}

type mockSynth struct {
	mu    sync.Mutex
	err   error
	slow  bool          // trickle audio so barge-in has a window
	lead  time.Duration // delay before the first audio chunk
	calls int
}

func (m *mockSynth) NewStreamingContext(ctx context.Context, opts tts.StreamOptions) (*tts.StreamingContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	sc := tts.NewStreamingContext()
	slow, lead := m.slow, m.lead
	sc.SendFunc = func(text string, isFinal bool) error {
		go func() {
			defer sc.FinishAudio()
			if lead > 0 {
				time.Sleep(lead)
				sc.PushAudio(make([]byte, 6400))
				return
			}
			if slow {
				for i := 0; i < 20; i++ {
					if !sc.PushAudio(make([]byte, 320)) {
						return
					}
					time.Sleep(20 * time.Millisecond)
				}
				return
			}
			sc.PushAudio(make([]byte, 320))
		}()
		return nil
	}
	return sc, nil
}

func (m *mockSynth) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockMic struct {
	frames chan []byte
}

func newMockMic() *mockMic {
	return &mockMic{frames: make(chan []byte, 64)}
}

func (m *mockMic) Frames() <-chan []byte { return m.frames }
func (m *mockMic) Close() error          { return nil }

type mockSpeaker struct {
	mu     sync.Mutex
	writes int
	resets int
}

func (s *mockSpeaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return nil
}

func (s *mockSpeaker) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

func (s *mockSpeaker) Close() error { return nil }

func (s *mockSpeaker) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func testConfig() PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.VAD.SilenceDuration = 50 * time.Millisecond
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.Timeouts = StageTimeouts{
		Greeting:  5 * time.Second,
		Listening: 5 * time.Second,
		Thinking:  5 * time.Second,
		Speaking:  5 * time.Second,
		Closing:   5 * time.Second,
	}
	return cfg
}

// feedUtterance pushes voiced frames followed by trailing silence so the VAD
// commits, and keeps feeding silence until stop is closed.
func feedUtterance(mic *mockMic, stop <-chan struct{}) {
	for i := 0; i < 5; i++ {
		mic.frames <- voicedFrame
		time.Sleep(10 * time.Millisecond)
	}
	for {
		select {
		case <-stop:
			return
		case mic.frames <- silentFrame:
			time.Sleep(20 * time.Millisecond)
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}
}

// feedSilence keeps the mic producing silent frames until stop is closed.
func feedSilence(mic *mockMic, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case mic.frames <- silentFrame:
			time.Sleep(20 * time.Millisecond)
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []PipelineState
	ch     chan PipelineState
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan PipelineState, 32)}
}

func (r *stateRecorder) record(from, to PipelineState) {
	r.mu.Lock()
	r.states = append(r.states, to)
	r.mu.Unlock()
	select {
	case r.ch <- to:
	default:
	}
}

func (r *stateRecorder) saw(want PipelineState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == want {
			return true
		}
	}
	return false
}

func runPipeline(t *testing.T, p *Pipeline, ctx context.Context) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not terminate")
	}
}

func TestPipelineTerminatesWhenAllBoundariesFail(t *testing.T) {
	store := history.New("system prompt")
	gen := &mockGenerator{err: core.NewBoundaryUnavailable("generation down", errors.New("refused"))}
	synth := &mockSynth{err: core.NewBoundaryUnavailable("synthesis down", errors.New("refused"))}
	trans := &mockTranscriber{err: core.NewBoundaryUnavailable("transcription down", errors.New("refused"))}

	p := NewPipeline(testConfig(), Deps{
		Generator:   gen,
		Transcriber: trans,
		Synthesizer: synth,
		Mic:         newMockMic(),
		Speaker:     &mockSpeaker{},
		History:     store,
	})

	runPipeline(t, p, context.Background())

	if got := p.State(); got != StateClosed {
		t.Errorf("final state = %v, want CLOSED", got)
	}
	turns := store.Snapshot()
	last := turns[len(turns)-1]
	if last.Speaker != types.SpeakerAssistant || last.Text != apologyLine {
		t.Errorf("last turn = %+v, want apology line", last)
	}
}

func TestPipelineFullConversation(t *testing.T) {
	store := history.New("system prompt")
	gen := &mockGenerator{replies: []string{"Nice, good luck with the report! " + CloseMarker}}
	synth := &mockSynth{}
	trans := &mockTranscriber{script: "sorry, getting back to the report now"}
	mic := newMockMic()
	rec := newStateRecorder()

	p := NewPipeline(testConfig(), Deps{
		Generator:   gen,
		Transcriber: trans,
		Synthesizer: synth,
		Mic:         mic,
		Speaker:     &mockSpeaker{},
		History:     store,
		OnState:     rec.record,
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		// start talking once the pipeline is listening
		for state := range rec.ch {
			if state == StateListening {
				go feedUtterance(mic, stop)
				return
			}
		}
	}()

	runPipeline(t, p, context.Background())

	turns := store.Snapshot()
	if len(turns) != 4 {
		t.Fatalf("turn count = %d, want 4 (system, opening, user, farewell)", len(turns))
	}
	if turns[1].Text != OpeningLine {
		t.Errorf("turn 1 = %q, want opening line", turns[1].Text)
	}
	if turns[2].Speaker != types.SpeakerUser || !strings.Contains(turns[2].Text, "report") {
		t.Errorf("turn 2 = %+v, want user utterance", turns[2])
	}
	if turns[3].Speaker != types.SpeakerAssistant || strings.Contains(turns[3].Text, CloseMarker) {
		t.Errorf("turn 3 = %+v, want farewell without close marker", turns[3])
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Sequence != turns[i-1].Sequence+1 {
			t.Errorf("sequence gap between %d and %d", turns[i-1].Sequence, turns[i].Sequence)
		}
	}
	if !rec.saw(StateThinking) || !rec.saw(StateClosing) {
		t.Errorf("state trace missing THINKING or CLOSING: %v", rec.states)
	}
	// opening plus farewell
	if got := synth.callCount(); got != 2 {
		t.Errorf("synthesis calls = %d, want 2", got)
	}
}

func TestPipelineBargeInKeepsAssistantTurn(t *testing.T) {
	store := history.New("system prompt")
	gen := &mockGenerator{replies: []string{
		"How does YouTube connect to the report?",
		"Sounds good, good luck! " + CloseMarker,
	}}
	synth := &mockSynth{slow: true}
	trans := &mockTranscriber{script: "just a quick break"}
	mic := newMockMic()
	speaker := &mockSpeaker{}
	rec := newStateRecorder()

	p := NewPipeline(testConfig(), Deps{
		Generator:   gen,
		Transcriber: trans,
		Synthesizer: synth,
		Mic:         mic,
		Speaker:     speaker,
		History:     store,
		OnState:     rec.record,
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for state := range rec.ch {
			switch state {
			case StateListening:
				go feedUtterance(mic, stop)
			case StateSpeaking:
				// user talks over the assistant
				mic.frames <- voicedFrame
			case StateClosed:
				return
			}
		}
	}()

	runPipeline(t, p, context.Background())

	if speaker.resetCount() == 0 {
		t.Error("barge-in should have reset playback")
	}

	// the interrupted assistant turn is recorded exactly once
	turns := store.Snapshot()
	count := 0
	for _, turn := range turns {
		if strings.Contains(turn.Text, "YouTube") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("interrupted assistant turn recorded %d times, want 1", count)
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Sequence != turns[i-1].Sequence+1 {
			t.Errorf("sequence gap after barge-in at turn %d", i)
		}
	}
}

func TestPipelineGenerationFailsTwice(t *testing.T) {
	store := history.New("system prompt")
	gen := &mockGenerator{err: core.NewBoundaryUnavailable("generation down", errors.New("refused"))}
	synth := &mockSynth{}
	trans := &mockTranscriber{script: "hello"}
	mic := newMockMic()
	rec := newStateRecorder()

	p := NewPipeline(testConfig(), Deps{
		Generator:   gen,
		Transcriber: trans,
		Synthesizer: synth,
		Mic:         mic,
		Speaker:     &mockSpeaker{},
		History:     store,
		OnState:     rec.record,
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for state := range rec.ch {
			if state == StateListening {
				go feedUtterance(mic, stop)
				return
			}
		}
	}()

	runPipeline(t, p, context.Background())

	if got := gen.callCount(); got != 2 {
		t.Errorf("generation attempts = %d, want 2 (one retry)", got)
	}
	turns := store.Snapshot()
	last := turns[len(turns)-1]
	if last.Text != apologyLine {
		t.Errorf("last turn = %q, want apology line", last.Text)
	}
	if got := p.State(); got != StateClosed {
		t.Errorf("final state = %v, want CLOSED", got)
	}
}

func TestPipelineDiscardsReplyAfterThinkingTimeout(t *testing.T) {
	store := history.New("system prompt")
	lateReply := "That video will still be there once the report is done."
	gen := &mockGenerator{replies: []string{lateReply}, delay: 400 * time.Millisecond}
	synth := &mockSynth{}
	trans := &mockTranscriber{script: "just watching one video"}
	mic := newMockMic()
	rec := newStateRecorder()

	cfg := testConfig()
	cfg.Timeouts.Thinking = 100 * time.Millisecond

	p := NewPipeline(cfg, Deps{
		Generator:   gen,
		Transcriber: trans,
		Synthesizer: synth,
		Mic:         mic,
		Speaker:     &mockSpeaker{},
		History:     store,
		OnState:     rec.record,
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for state := range rec.ch {
			if state == StateListening {
				go feedUtterance(mic, stop)
				return
			}
		}
	}()

	runPipeline(t, p, context.Background())

	// the reply landed after the stage deadline and must never be appended
	turns := store.Snapshot()
	for _, turn := range turns {
		if turn.Text == lateReply {
			t.Fatal("late reply was appended after the thinking deadline")
		}
	}
	last := turns[len(turns)-1]
	if last.Text != apologyLine {
		t.Errorf("last turn = %q, want apology line", last.Text)
	}
	if got := p.State(); got != StateClosed {
		t.Errorf("final state = %v, want CLOSED", got)
	}
	// a result that arrives late is discarded, not retried
	if got := gen.callCount(); got != 1 {
		t.Errorf("generation attempts = %d, want 1", got)
	}
}

func TestPipelineListeningTimeoutOnSilentUser(t *testing.T) {
	store := history.New("system prompt")
	synth := &mockSynth{}
	trans := &mockTranscriber{script: "hello"}
	mic := newMockMic()

	cfg := testConfig()
	cfg.Timeouts.Listening = 200 * time.Millisecond

	p := NewPipeline(cfg, Deps{
		Generator:   &mockGenerator{},
		Transcriber: trans,
		Synthesizer: synth,
		Mic:         mic,
		Speaker:     &mockSpeaker{},
		History:     store,
	})

	stop := make(chan struct{})
	defer close(stop)
	go feedSilence(mic, stop)

	runPipeline(t, p, context.Background())

	turns := store.Snapshot()
	for _, turn := range turns {
		if turn.Speaker == types.SpeakerUser {
			t.Errorf("user turn %q appended without an accepted utterance", turn.Text)
		}
	}
	last := turns[len(turns)-1]
	if last.Text != apologyLine {
		t.Errorf("last turn = %q, want apology line", last.Text)
	}
	if got := p.State(); got != StateClosed {
		t.Errorf("final state = %v, want CLOSED", got)
	}
}

func TestSpeakDrainCoversSynthesisLatency(t *testing.T) {
	// 6400 bytes of 16kHz mono s16le is 200ms of audio, delivered after a
	// 150ms synthesis stall; speak must hold the state for the full audio
	// duration measured from the first write, not from the request
	synth := &mockSynth{lead: 150 * time.Millisecond}
	p := NewPipeline(testConfig(), Deps{
		Synthesizer: synth,
		Mic:         newMockMic(),
		Speaker:     &mockSpeaker{},
		History:     history.New("system prompt"),
	})

	start := time.Now()
	interrupted, err := p.speak(context.Background(), "hold on", false)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("speak error: %v", err)
	}
	if interrupted {
		t.Error("speak reported an interrupt with no voiced input")
	}
	if elapsed < 300*time.Millisecond {
		t.Errorf("speak returned after %v, want >= 300ms (lead + playback)", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("speak took %v, drain window far too long", elapsed)
	}
}

func TestPipelineShutdownIsNotAnError(t *testing.T) {
	store := history.New("system prompt")
	synth := &mockSynth{}
	trans := &mockTranscriber{script: ""}
	mic := newMockMic()

	p := NewPipeline(testConfig(), Deps{
		Generator:   &mockGenerator{},
		Transcriber: trans,
		Synthesizer: synth,
		Mic:         mic,
		Speaker:     &mockSpeaker{},
		History:     store,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// let it reach listening, then shut down mid-session
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after shutdown returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop on shutdown")
	}
	if got := p.State(); got != StateClosed {
		t.Errorf("final state = %v, want CLOSED", got)
	}
	for _, turn := range store.Snapshot() {
		if turn.Text == apologyLine {
			t.Error("shutdown must not produce the apology line")
		}
	}
}
