package live

import "math"

// AudioConfig specifies audio format parameters for the capture and
// playback streams.
type AudioConfig struct {
	// SampleRate in Hz.
	SampleRate int
	// Channels: 1 for mono, 2 for stereo.
	Channels int
	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int
}

// DefaultAudioConfig returns the standard audio configuration: 16kHz mono
// s16le, matching what the transcription boundary expects.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c AudioConfig) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in
// milliseconds.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// CalculateVolume maps PCM audio to a perceptual 0.0-1.0 volume on a dB
// scale, with -80 dB as the floor. Silence maps to 0.0, full-scale audio
// to 1.0. This is the scale the VAD's minimum-volume threshold is tuned
// against.
func CalculateVolume(pcm []byte) float64 {
	rms := CalculateRMSEnergy(pcm)
	db := 20.0 * math.Log10(rms+1e-6)
	normalized := (db + 80.0) / 80.0
	return math.Max(0.0, math.Min(1.0, normalized))
}
