// Package types defines the shared data model for the Sherpa orchestrator.
package types

import "time"

// Confidence grades how sure the judge is about a verdict.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether the confidence is one of the recognized grades.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Verdict is the structured judgment produced for one screen observation.
// It is created once per sample cycle and consumed exactly once by the
// distraction tracker.
type Verdict struct {
	// Activity is a short description of what is visible on screen.
	Activity string

	// OnTask reports whether the observed activity matches the stated task.
	OnTask bool

	// Confidence grades the judgment.
	Confidence Confidence

	// Reasoning is a one-sentence explanation of the assessment.
	Reasoning string

	// PrimaryContext names the dominant application or website.
	PrimaryContext string

	// NeedsIntervention is the judge's own escalation recommendation,
	// honored regardless of the hysteresis counter.
	NeedsIntervention bool

	// CapturedAt is when the underlying screenshot was taken.
	CapturedAt time.Time
}

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerSystem    Speaker = "system"
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one finalized utterance in a conversation. Turns are append-only:
// once handed to the context store they are never mutated.
type Turn struct {
	Speaker  Speaker
	Text     string
	Sequence int
}
