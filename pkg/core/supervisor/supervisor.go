// Package supervisor coordinates the sampling loop and intervention
// sessions. It is the only component allowed to start a session or mutate
// the session-active gate, and it owns shutdown.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sherpa-ai/sherpa/pkg/core"
	"github.com/sherpa-ai/sherpa/pkg/core/capture"
	"github.com/sherpa-ai/sherpa/pkg/core/history"
	"github.com/sherpa-ai/sherpa/pkg/core/live"
	"github.com/sherpa-ai/sherpa/pkg/core/tracker"
	"github.com/sherpa-ai/sherpa/pkg/core/types"
)

// Judge produces one verdict per screen observation.
type Judge interface {
	Judge(ctx context.Context, png []byte, capturedAt time.Time) (types.Verdict, error)
}

// SessionRunner runs one intervention conversation to completion.
// *live.Pipeline satisfies it.
type SessionRunner interface {
	Run(ctx context.Context) error
}

// PipelineFactory builds a fresh pipeline for one session. A new pipeline is
// constructed per escalation so no conversation state leaks between
// sessions.
type PipelineFactory func() SessionRunner

// Session is one escalation, alive from the Escalate decision until the
// pipeline reaches Closed.
type Session struct {
	ID        string
	StartedAt time.Time
}

// Deps are the supervisor's collaborators.
type Deps struct {
	Grabber     capture.Grabber
	Judge       Judge
	Tracker     *tracker.Tracker
	History     *history.Store
	NewPipeline PipelineFactory
	Logger      *slog.Logger

	// OnVerdict is called after every judged sample, with the tracker's
	// decision. Optional; this is the CLI's per-cycle summary hook.
	OnVerdict func(v types.Verdict, decision tracker.Decision)
	// OnSession is called when a session starts. Optional.
	OnSession func(s Session)
}

// Supervisor runs the sampling loop and gates escalation into sessions.
// Sampling is paused while a session is live; at most one session exists at
// any time.
type Supervisor struct {
	task     string
	interval time.Duration
	deps     Deps
	logger   *slog.Logger

	mu      sync.Mutex
	session *Session

	wg sync.WaitGroup
}

// New creates a supervisor for the given task description and sampling
// interval.
func New(task string, interval time.Duration, deps Deps) *Supervisor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		task:     task,
		interval: interval,
		deps:     deps,
		logger:   logger,
	}
}

// Run drives the sampling loop until ctx is cancelled, then waits for any
// in-flight session to tear down. Cancellation is the expected way to stop
// and is not an error.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("monitoring started", "task", s.task, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("monitoring stopped")
			return nil
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle takes one observation and feeds it through the judge and tracker.
// The sampler is not polled while a session is active.
func (s *Supervisor) cycle(ctx context.Context) {
	if s.sessionActive() {
		s.logger.Debug("sampling paused, session active")
		return
	}

	capturedAt := time.Now()
	png, err := s.deps.Grabber.Grab(ctx)
	if err != nil {
		if core.IsCancelled(err) {
			return
		}
		s.logger.Warn("screen capture failed, skipping cycle", "error", err)
		return
	}

	verdict, err := s.deps.Judge.Judge(ctx, png, capturedAt)
	if err != nil {
		if core.IsCancelled(err) {
			return
		}
		// recoverable: the cycle is dropped and tracker state is untouched
		s.logger.Warn("observation judging failed, skipping cycle",
			"class", core.ClassOf(err), "error", err)
		return
	}

	s.OnVerdict(ctx, verdict)
}

// OnVerdict feeds one verdict to the tracker and starts a session on
// Escalate. Verdicts arriving while a session is active are dropped: the
// screen is not being judged during a live conversation.
func (s *Supervisor) OnVerdict(ctx context.Context, v types.Verdict) {
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		s.logger.Debug("verdict dropped, session active")
		return
	}

	decision := s.deps.Tracker.Observe(v)
	s.logger.Info("verdict",
		"activity", v.Activity,
		"on_task", v.OnTask,
		"confidence", v.Confidence,
		"count", s.deps.Tracker.Count(),
		"decision", decision.String())

	if decision != tracker.Escalate {
		s.mu.Unlock()
		if s.deps.OnVerdict != nil {
			s.deps.OnVerdict(v, decision)
		}
		return
	}

	session := &Session{ID: uuid.NewString(), StartedAt: time.Now()}
	s.session = session
	s.mu.Unlock()

	if s.deps.OnVerdict != nil {
		s.deps.OnVerdict(v, decision)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSession(ctx, *session)
	}()
}

// runSession prepares the context store, runs one pipeline to completion,
// and restores monitoring state afterwards. The tracker count is reset on
// every session end, success or failure, and the session is discarded.
func (s *Supervisor) runSession(ctx context.Context, session Session) {
	s.logger.Info("intervention session starting", "session_id", session.ID)
	if s.deps.OnSession != nil {
		s.deps.OnSession(session)
	}

	interventionCtx := live.BuildInterventionContext(
		s.task, s.deps.Tracker.LastVerdict(), s.deps.Tracker.Count())
	s.deps.History.Reset(live.BuildSystemPrompt(interventionCtx))

	pipeline := s.deps.NewPipeline()
	if err := pipeline.Run(ctx); err != nil {
		s.logger.Warn("session ended abnormally", "session_id", session.ID, "error", err)
	}

	s.mu.Lock()
	s.deps.Tracker.Reset()
	s.session = nil
	s.mu.Unlock()
	s.logger.Info("intervention session ended", "session_id", session.ID)
}

func (s *Supervisor) sessionActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// ActiveSession returns a copy of the live session, if any.
func (s *Supervisor) ActiveSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}
