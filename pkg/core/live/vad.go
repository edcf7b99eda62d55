package live

import "time"

// VADResult indicates the outcome of processing one audio frame.
type VADResult int

const (
	// VADContinue means keep listening for more audio.
	VADContinue VADResult = iota
	// VADCommit means the utterance is complete.
	VADCommit
)

// String returns a human-readable VAD result.
func (r VADResult) String() string {
	switch r {
	case VADContinue:
		return "CONTINUE"
	case VADCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

// VADConfig configures energy-based voice activity detection.
type VADConfig struct {
	// SilenceDuration is how long the input must stay below MinVolume after
	// speech before the utterance is considered complete.
	SilenceDuration time.Duration
	// MinVolume is the perceptual volume (see CalculateVolume) a frame must
	// reach to count as speech. Tuned conservatively so ambient noise and
	// playback echo do not register.
	MinVolume float64
	// MinConfidence is the minimum voiced-frame ratio an utterance needs to
	// be accepted. Utterances below it are discarded as noise.
	MinConfidence float64
}

// DefaultVADConfig returns the standard detection parameters.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SilenceDuration: time.Second,
		MinVolume:       0.6,
		MinConfidence:   0.7,
	}
}

// EnergyVAD detects utterance boundaries from frame energy: speech starts on
// the first frame above MinVolume, and the utterance commits once
// SilenceDuration passes with no further voiced frame. Single caller,
// no locking.
type EnergyVAD struct {
	config VADConfig

	speechStarted bool
	lastVoice     time.Time
	voicedFrames  int
	totalFrames   int
	// frames seen up to and including the last voiced frame; trailing
	// silence is excluded from the confidence window
	speechFrames int
}

// NewEnergyVAD creates a VAD with the given configuration.
func NewEnergyVAD(config VADConfig) *EnergyVAD {
	return &EnergyVAD{config: config}
}

// ProcessFrame consumes one PCM frame and reports whether the utterance is
// complete. Frames before speech onset are not counted toward confidence.
func (v *EnergyVAD) ProcessFrame(pcm []byte, now time.Time) VADResult {
	voiced := CalculateVolume(pcm) >= v.config.MinVolume

	if !v.speechStarted {
		if !voiced {
			return VADContinue
		}
		v.speechStarted = true
		v.lastVoice = now
		v.voicedFrames = 1
		v.totalFrames = 1
		v.speechFrames = 1
		return VADContinue
	}

	v.totalFrames++
	if voiced {
		v.voicedFrames++
		v.lastVoice = now
		v.speechFrames = v.totalFrames
		return VADContinue
	}

	if now.Sub(v.lastVoice) >= v.config.SilenceDuration {
		return VADCommit
	}
	return VADContinue
}

// SpeechStarted reports whether any voiced frame has been seen since the
// last Reset.
func (v *EnergyVAD) SpeechStarted() bool {
	return v.speechStarted
}

// Confidence returns the voiced-frame ratio of the current utterance, or 0
// before speech onset.
func (v *EnergyVAD) Confidence() float64 {
	if v.speechFrames == 0 {
		return 0
	}
	return float64(v.voicedFrames) / float64(v.speechFrames)
}

// Accepts reports whether the current utterance clears the confidence
// threshold.
func (v *EnergyVAD) Accepts() bool {
	return v.speechStarted && v.Confidence() >= v.config.MinConfidence
}

// Reset clears all utterance state for the next listening turn.
func (v *EnergyVAD) Reset() {
	v.speechStarted = false
	v.lastVoice = time.Time{}
	v.voicedFrames = 0
	v.totalFrames = 0
	v.speechFrames = 0
}
