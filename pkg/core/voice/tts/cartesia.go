package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sherpa-ai/sherpa/pkg/core"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"

	defaultModel      = "sonic-3"
	defaultSampleRate = 16000
)

// Cartesia implements Synthesizer against Cartesia's streaming TTS API.
type Cartesia struct {
	apiKey string
	wsURL  string
}

// NewCartesia creates a Cartesia synthesizer.
func NewCartesia(apiKey string) *Cartesia {
	return &Cartesia{apiKey: apiKey, wsURL: cartesiaWSURL}
}

// NewCartesiaWithURL creates a Cartesia synthesizer against a custom
// websocket endpoint. Used by tests.
func NewCartesiaWithURL(apiKey, wsURL string) *Cartesia {
	return &Cartesia{apiKey: apiKey, wsURL: wsURL}
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaStreamingRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceSpec    `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	ContextID    string               `json:"context_id"`
	Continue     bool                 `json:"continue"`
	Language     *string              `json:"language,omitempty"`
}

type cartesiaWSResponse struct {
	Type  string `json:"type"` // "chunk", "flush_done", "done", "error"
	Data  string `json:"data"` // base64 audio
	Error string `json:"error"`
}

// NewStreamingContext opens a streaming synthesis session. Output is raw
// pcm_s16le at the configured sample rate so chunks can go straight to the
// playback device.
func (c *Cartesia) NewStreamingContext(ctx context.Context, opts StreamOptions) (*StreamingContext, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.NewBoundaryUnavailable("synthesis connect", err)
	}

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	baseReq := cartesiaStreamingRequest{
		ModelID: defaultModel,
		Voice: cartesiaVoiceSpec{
			Mode: "id",
			ID:   opts.Voice,
		},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		},
		ContextID: uuid.NewString(),
	}
	if opts.Language != "" {
		baseReq.Language = &opts.Language
	}

	sc := NewStreamingContext()

	// Continue=true keeps the provider context open for more chunks; the
	// final chunk sends Continue=false, after which further text is rejected.
	sc.SendFunc = func(text string, isFinal bool) error {
		req := baseReq
		req.Transcript = text
		req.Continue = !isFinal
		return conn.WriteJSON(req)
	}
	sc.CloseFunc = func() error {
		return conn.Close()
	}

	go func() {
		defer sc.FinishAudio()
		defer conn.Close()

		for {
			select {
			case <-ctx.Done():
				sc.SetError(ctx.Err())
				return
			case <-sc.Done():
				return
			default:
			}

			var msg cartesiaWSResponse
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return
				}
				select {
				case <-sc.Done():
				default:
					sc.SetError(core.NewBoundaryUnavailable("synthesis stream read", err))
				}
				return
			}

			switch msg.Type {
			case "chunk":
				audio, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil {
					sc.SetError(core.NewMalformedResponse("decode synthesized audio", err))
					return
				}
				if !sc.PushAudio(audio) {
					return
				}
			case "done":
				return
			case "flush_done":
				continue
			case "error":
				sc.SetError(core.NewBoundaryUnavailable(fmt.Sprintf("synthesis stream: %s", msg.Error), nil))
				return
			}
		}
	}()

	return sc, nil
}
