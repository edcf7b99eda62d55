// Package stt provides streaming speech-to-text over a websocket boundary.
package stt

import "context"

// Transcriber opens live transcription streams. Audio is pushed in as raw
// PCM frames and transcript deltas come back incrementally.
type Transcriber interface {
	// NewStream opens a streaming transcription session.
	NewStream(ctx context.Context, opts StreamOptions) (*Stream, error)
}

// StreamOptions configures a transcription stream.
type StreamOptions struct {
	Model      string  // provider model id (default "ink-whisper")
	Language   string  // ISO language code (default "en")
	SampleRate int     // input sample rate in Hz (default 16000)
	MinVolume  float64 // provider-side noise gate, 0 keeps the default
}

// TranscriptDelta is one incremental transcript update.
type TranscriptDelta struct {
	Text     string  // partial or final transcript text
	IsFinal  bool    // true when the provider marks the segment final
	Duration float64 // audio seconds consumed so far
}
