// Package tts provides streaming text-to-speech over a websocket boundary.
package tts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrContextClosed is returned when text is sent to a closed stream.
var ErrContextClosed = errors.New("tts: streaming context closed")

// Synthesizer opens streaming synthesis contexts. Text is pushed in chunks
// and PCM audio comes back as it is generated.
type Synthesizer interface {
	// NewStreamingContext opens a streaming synthesis session.
	NewStreamingContext(ctx context.Context, opts StreamOptions) (*StreamingContext, error)
}

// StreamOptions configures a synthesis stream.
type StreamOptions struct {
	Voice      string // voice identifier
	Language   string // language code, empty keeps the provider default
	SampleRate int    // output sample rate in Hz (default 16000)
}

// StreamingContext manages one incremental synthesis session. Text chunks go
// in via SendText and raw PCM chunks come out of Audio. Implementations wire
// SendFunc and CloseFunc and feed audio through PushAudio/FinishAudio.
type StreamingContext struct {
	audio     chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	errMu sync.Mutex
	err   error

	SendFunc  func(text string, isFinal bool) error
	CloseFunc func() error
}

// NewStreamingContext creates an unwired streaming context.
func NewStreamingContext() *StreamingContext {
	return &StreamingContext{
		audio: make(chan []byte, 100),
		done:  make(chan struct{}),
	}
}

// SendText sends a text chunk. isFinal marks the last chunk so the provider
// flushes remaining audio and closes its side.
func (sc *StreamingContext) SendText(text string, isFinal bool) error {
	if sc.closed.Load() {
		return ErrContextClosed
	}
	if sc.SendFunc != nil {
		return sc.SendFunc(text, isFinal)
	}
	return nil
}

// Flush signals that all text has been sent.
func (sc *StreamingContext) Flush() error {
	return sc.SendText("", true)
}

// Audio returns the channel of PCM chunks. It is closed when synthesis
// finishes or the context is closed.
func (sc *StreamingContext) Audio() <-chan []byte {
	return sc.audio
}

// Done is closed when the session ends.
func (sc *StreamingContext) Done() <-chan struct{} {
	return sc.done
}

// Err reports a synthesis failure, if any.
func (sc *StreamingContext) Err() error {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	return sc.err
}

// Close tears down the session. Safe to call more than once.
func (sc *StreamingContext) Close() error {
	var err error
	sc.closeOnce.Do(func() {
		sc.closed.Store(true)
		if sc.CloseFunc != nil {
			err = sc.CloseFunc()
		}
		close(sc.done)
	})
	return err
}

// PushAudio delivers an audio chunk to the consumer. Returns false once the
// context is done.
func (sc *StreamingContext) PushAudio(chunk []byte) bool {
	select {
	case sc.audio <- chunk:
		return true
	case <-sc.done:
		return false
	}
}

// FinishAudio closes the audio channel. Called by the implementation when no
// more audio will arrive.
func (sc *StreamingContext) FinishAudio() {
	close(sc.audio)
}

// SetError records the first synthesis error.
func (sc *StreamingContext) SetError(err error) {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	if sc.err == nil {
		sc.err = err
	}
}
