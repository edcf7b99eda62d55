package live

import "time"

// PipelineState represents the current stage of an intervention
// conversation.
type PipelineState int

const (
	// StateIdle is the initial state before the supervisor starts the
	// pipeline.
	StateIdle PipelineState = iota
	// StateGreeting is playing the scripted opening line.
	StateGreeting
	// StateListening is capturing user speech through the transcription
	// boundary.
	StateListening
	// StateThinking is waiting on the generation boundary.
	StateThinking
	// StateSpeaking is playing the assistant turn, with barge-in armed.
	StateSpeaking
	// StateClosing is playing the farewell or apology before teardown.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable state name.
func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateGreeting:
		return "GREETING"
	case StateListening:
		return "LISTENING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StageTimeouts bound the wall-clock time each state may spend before the
// pipeline falls back to Closing. They guarantee a session can never hang on
// a stalled boundary.
type StageTimeouts struct {
	Greeting  time.Duration
	Listening time.Duration
	Thinking  time.Duration
	Speaking  time.Duration
	Closing   time.Duration
}

// DefaultStageTimeouts returns the standard per-state budgets.
func DefaultStageTimeouts() StageTimeouts {
	return StageTimeouts{
		Greeting:  30 * time.Second,
		Listening: 90 * time.Second,
		Thinking:  30 * time.Second,
		Speaking:  60 * time.Second,
		Closing:   15 * time.Second,
	}
}

// PipelineConfig holds all configuration for one conversation pipeline.
type PipelineConfig struct {
	// VAD governs utterance endpointing and barge-in detection.
	VAD VADConfig

	// Audio is the capture/playback stream format.
	Audio AudioConfig

	// Voice is the synthesis voice identity.
	Voice string

	// Timeouts are the per-state wall-clock budgets.
	Timeouts StageTimeouts

	// RetryBackoff is the pause before the single retry of a failed
	// boundary call.
	RetryBackoff time.Duration
}

// DefaultPipelineConfig returns a PipelineConfig with standard defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		VAD:          DefaultVADConfig(),
		Audio:        DefaultAudioConfig(),
		Timeouts:     DefaultStageTimeouts(),
		RetryBackoff: 500 * time.Millisecond,
	}
}
