package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sherpa-ai/sherpa/pkg/core"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion = "2025-04-16"

	defaultModel      = "ink-whisper"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Cartesia implements Transcriber against Cartesia's streaming STT API.
type Cartesia struct {
	apiKey string
	wsURL  string
}

// NewCartesia creates a Cartesia transcriber.
func NewCartesia(apiKey string) *Cartesia {
	return &Cartesia{apiKey: apiKey, wsURL: cartesiaWSURL}
}

// NewCartesiaWithURL creates a Cartesia transcriber against a custom
// websocket endpoint. Used by tests.
func NewCartesiaWithURL(apiKey, wsURL string) *Cartesia {
	return &Cartesia{apiKey: apiKey, wsURL: wsURL}
}

// NewStream opens a streaming transcription session. Audio is sent
// incrementally via SendAudio and deltas are received from Deltas().
func (c *Cartesia) NewStream(ctx context.Context, opts StreamOptions) (*Stream, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	language := opts.Language
	if language == "" {
		language = defaultLanguage
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", language)
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	if opts.MinVolume > 0 {
		q.Set("min_volume", fmt.Sprintf("%g", opts.MinVolume))
	}
	// Endpointing is done locally from energy, so max_silence_duration_secs
	// stays unset and the provider streams interim transcripts continuously.
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, core.NewBoundaryUnavailable(fmt.Sprintf("transcription connect (status %d): %s", resp.StatusCode, string(body)), err)
			}
			return nil, core.NewBoundaryUnavailable(fmt.Sprintf("transcription connect: status %d", resp.StatusCode), err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.NewBoundaryUnavailable("transcription connect", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		conn:   conn,
		deltas: make(chan TranscriptDelta, 100),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.readLoop()
	return s, nil
}

// Stream is a live transcription session over a websocket.
type Stream struct {
	conn    *websocket.Conn
	deltas  chan TranscriptDelta
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc

	errMu sync.Mutex
	err   error
}

type cartesiaSTTResponse struct {
	Type     string  `json:"type"` // "transcript", "flush_done", "done", "error"
	Text     string  `json:"text"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

func (s *Stream) readLoop() {
	defer func() {
		close(s.deltas)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !s.closed.Load() {
				s.setErr(core.NewBoundaryUnavailable("transcription stream read", err))
			}
			return
		}

		var msg cartesiaSTTResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			delta := TranscriptDelta{
				Text:     msg.Text,
				IsFinal:  msg.IsFinal,
				Duration: msg.Duration,
			}
			select {
			case s.deltas <- delta:
			case <-s.ctx.Done():
				return
			}
		case "flush_done":
			continue
		case "done":
			return
		case "error":
			s.setErr(core.NewBoundaryUnavailable(fmt.Sprintf("transcription stream: %s", msg.Error), nil))
			return
		}
	}
}

// SendAudio pushes raw PCM audio (s16le at the configured sample rate).
func (s *Stream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Finalize asks the provider to flush any buffered audio into a final
// transcript segment.
func (s *Stream) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

// Deltas returns the channel of incremental transcript updates. It is
// closed when the session ends.
func (s *Stream) Deltas() <-chan TranscriptDelta {
	return s.deltas
}

// Done is closed when the read loop exits.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err reports a stream failure, if any, after Done is closed.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close tears down the session and its websocket.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	s.writeMu.Unlock()
	return s.conn.Close()
}
