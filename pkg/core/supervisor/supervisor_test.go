package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sherpa-ai/sherpa/pkg/core"
	"github.com/sherpa-ai/sherpa/pkg/core/history"
	"github.com/sherpa-ai/sherpa/pkg/core/tracker"
	"github.com/sherpa-ai/sherpa/pkg/core/types"
)

type fakeGrabber struct {
	err   error
	grabs atomic.Int64
}

func (g *fakeGrabber) Grab(ctx context.Context) ([]byte, error) {
	g.grabs.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return []byte("png"), nil
}

type fakeJudge struct {
	verdict types.Verdict
	err     error
	calls   atomic.Int64
}

func (j *fakeJudge) Judge(ctx context.Context, png []byte, capturedAt time.Time) (types.Verdict, error) {
	j.calls.Add(1)
	if j.err != nil {
		return types.Verdict{}, j.err
	}
	v := j.verdict
	v.CapturedAt = capturedAt
	return v, nil
}

type fakePipeline struct {
	mu      sync.Mutex
	runs    int
	release chan struct{} // Run blocks until this closes, if set
}

func (p *fakePipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	p.runs++
	p.mu.Unlock()
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
		}
	}
	return nil
}

func (p *fakePipeline) runCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}

func offTask() types.Verdict {
	return types.Verdict{
		Activity:   "watching videos",
		OnTask:     false,
		Confidence: types.ConfidenceHigh,
	}
}

func onTask() types.Verdict {
	return types.Verdict{
		Activity:   "editing the report",
		OnTask:     true,
		Confidence: types.ConfidenceHigh,
	}
}

func newTestSupervisor(pipe *fakePipeline, track *tracker.Tracker) *Supervisor {
	return New("write the report", 10*time.Millisecond, Deps{
		Grabber:     &fakeGrabber{},
		Judge:       &fakeJudge{verdict: offTask()},
		Tracker:     track,
		History:     history.New("placeholder"),
		NewPipeline: func() SessionRunner { return pipe },
	})
}

func TestEscalationStartsSingleSession(t *testing.T) {
	pipe := &fakePipeline{release: make(chan struct{})}
	track := tracker.New(1)
	s := newTestSupervisor(pipe, track)
	ctx := context.Background()

	s.OnVerdict(ctx, offTask())

	deadline := time.Now().Add(time.Second)
	for {
		if _, active := s.ActiveSession(); active {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline = time.Now().Add(time.Second)
	for {
		if pipe.runCount() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pipeline did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// verdicts during a live session are dropped, not queued
	for i := 0; i < 3; i++ {
		s.OnVerdict(ctx, offTask())
	}
	if got := pipe.runCount(); got != 1 {
		t.Fatalf("pipeline runs = %d, want 1", got)
	}

	close(pipe.release)

	deadline = time.Now().Add(time.Second)
	for {
		if _, active := s.ActiveSession(); !active {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session did not end")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// count resets once the session completes
	if got := track.Count(); got != 0 {
		t.Errorf("tracker count after session = %d, want 0", got)
	}
	if got := pipe.runCount(); got != 1 {
		t.Errorf("dropped verdicts must not queue sessions, runs = %d", got)
	}
}

func TestSessionResetsSystemPrompt(t *testing.T) {
	pipe := &fakePipeline{}
	track := tracker.New(1)
	store := history.New("placeholder")
	s := New("write the report", 10*time.Millisecond, Deps{
		Grabber:     &fakeGrabber{},
		Judge:       &fakeJudge{verdict: offTask()},
		Tracker:     track,
		History:     store,
		NewPipeline: func() SessionRunner { return pipe },
	})

	s.OnVerdict(context.Background(), offTask())

	deadline := time.Now().Add(time.Second)
	for pipe.runCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	turns := store.Snapshot()
	if len(turns) != 1 || turns[0].Speaker != types.SpeakerSystem {
		t.Fatalf("history after reset = %+v, want single system turn", turns)
	}
	if turns[0].Text == "placeholder" {
		t.Error("system prompt was not rebuilt for the session")
	}
}

func TestContinueDoesNotStartSession(t *testing.T) {
	pipe := &fakePipeline{}
	track := tracker.New(3)
	s := newTestSupervisor(pipe, track)

	var decisions []tracker.Decision
	s.deps.OnVerdict = func(v types.Verdict, d tracker.Decision) {
		decisions = append(decisions, d)
	}

	s.OnVerdict(context.Background(), offTask())
	s.OnVerdict(context.Background(), onTask())

	time.Sleep(50 * time.Millisecond)
	if got := pipe.runCount(); got != 0 {
		t.Errorf("pipeline runs = %d, want 0 below threshold", got)
	}
	if len(decisions) != 2 || decisions[0] != tracker.Continue || decisions[1] != tracker.Continue {
		t.Errorf("decisions = %v, want two Continue", decisions)
	}
}

func TestRecoverableJudgeErrorSkipsCycle(t *testing.T) {
	pipe := &fakePipeline{}
	track := tracker.New(1)
	judge := &fakeJudge{err: core.NewMalformedResponse("bad json", errors.New("unexpected token"))}
	s := New("write the report", 10*time.Millisecond, Deps{
		Grabber:     &fakeGrabber{},
		Judge:       judge,
		Tracker:     track,
		History:     history.New("placeholder"),
		NewPipeline: func() SessionRunner { return pipe },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}

	if judge.calls.Load() == 0 {
		t.Fatal("judge was never called")
	}
	if got := track.Count(); got != 0 {
		t.Errorf("tracker count after failed cycles = %d, want 0 (state untouched)", got)
	}
	if got := pipe.runCount(); got != 0 {
		t.Errorf("pipeline runs = %d, want 0", got)
	}
}

func TestSamplingPausedWhileSessionActive(t *testing.T) {
	pipe := &fakePipeline{release: make(chan struct{})}
	track := tracker.New(1)
	grabber := &fakeGrabber{}
	s := New("write the report", 10*time.Millisecond, Deps{
		Grabber:     grabber,
		Judge:       &fakeJudge{verdict: offTask()},
		Tracker:     track,
		History:     history.New("placeholder"),
		NewPipeline: func() SessionRunner { return pipe },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// the first cycle escalates; once the session is live, sampling stops
	deadline := time.Now().Add(time.Second)
	for pipe.runCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	grabsAtStart := grabber.grabs.Load()
	time.Sleep(100 * time.Millisecond)
	if got := grabber.grabs.Load(); got != grabsAtStart {
		t.Errorf("sampler polled %d times during live session", got-grabsAtStart)
	}

	close(pipe.release)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
