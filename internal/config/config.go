// Package config resolves Sherpa's runtime configuration from defaults, an
// optional YAML file, environment variables, and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSampleInterval = 10 * time.Second
	defaultThreshold      = 1
	defaultJudgeModel     = "gemini-2.0-flash-exp"
	defaultChatModel      = "gemini-1.5-flash"
	defaultVoiceID        = "98a34ef2-2140-4c28-9c71-663dc4dd7022"
)

// VAD holds voice-activity endpointing parameters.
type VAD struct {
	// SilenceDuration is the trailing silence that ends an utterance.
	SilenceDuration time.Duration `yaml:"silence_duration"`
	// MinVolume is the normalized energy floor below which input is
	// treated as silence.
	MinVolume float64 `yaml:"min_volume"`
	// MinConfidence is the minimum mean transcript confidence for an
	// utterance to be accepted.
	MinConfidence float64 `yaml:"min_confidence"`
}

// Config is the resolved process configuration.
type Config struct {
	// SampleInterval is the time between screen observations.
	SampleInterval time.Duration `yaml:"sample_interval"`
	// Threshold is the distraction count at which escalation triggers.
	Threshold int `yaml:"threshold"`
	// JudgeModel is the vision model used to judge observations.
	JudgeModel string `yaml:"judge_model"`
	// ChatModel is the generation model used during conversations.
	ChatModel string `yaml:"chat_model"`
	// VoiceID selects the synthesis voice.
	VoiceID string `yaml:"voice_id"`
	// VAD tunes utterance endpointing.
	VAD VAD `yaml:"vad"`

	// GeminiAPIKey authenticates the judge and generation boundaries.
	GeminiAPIKey string `yaml:"-"`
	// VoiceAPIKey authenticates the transcription and synthesis boundaries.
	VoiceAPIKey string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SampleInterval: defaultSampleInterval,
		Threshold:      defaultThreshold,
		JudgeModel:     defaultJudgeModel,
		ChatModel:      defaultChatModel,
		VoiceID:        defaultVoiceID,
		VAD: VAD{
			SilenceDuration: time.Second,
			MinVolume:       0.6,
			MinConfidence:   0.7,
		},
	}
}

// Load resolves the configuration from args and the environment.
func Load(args []string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := Default()

	fs := flag.NewFlagSet("sherpa", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		filePath      = fs.String("config", "", "optional YAML config file")
		interval      = fs.Duration("interval", cfg.SampleInterval, "time between screen observations")
		threshold     = fs.Int("threshold", cfg.Threshold, "distraction count that triggers escalation")
		judgeModel    = fs.String("judge-model", cfg.JudgeModel, "vision model for observation judging")
		chatModel     = fs.String("model", cfg.ChatModel, "generation model for conversations")
		voiceID       = fs.String("voice", cfg.VoiceID, "synthesis voice identity")
		silence       = fs.Duration("vad-silence", cfg.VAD.SilenceDuration, "trailing silence that ends an utterance")
		minVolume     = fs.Float64("vad-min-volume", cfg.VAD.MinVolume, "normalized volume floor for speech")
		minConfidence = fs.Float64("vad-min-confidence", cfg.VAD.MinConfidence, "minimum transcript confidence")
	)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *filePath != "" {
		if err := loadFile(*filePath, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.GeminiAPIKey = strings.TrimSpace(getenv("GEMINI_API_KEY"))
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = strings.TrimSpace(getenv("GOOGLE_API_KEY"))
	}
	cfg.VoiceAPIKey = strings.TrimSpace(getenv("CARTESIA_API_KEY"))

	// Flags set on the command line override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "interval":
			cfg.SampleInterval = *interval
		case "threshold":
			cfg.Threshold = *threshold
		case "judge-model":
			cfg.JudgeModel = *judgeModel
		case "model":
			cfg.ChatModel = *chatModel
		case "voice":
			cfg.VoiceID = *voiceID
		case "vad-silence":
			cfg.VAD.SilenceDuration = *silence
		case "vad-min-volume":
			cfg.VAD.MinVolume = *minVolume
		case "vad-min-confidence":
			cfg.VAD.MinConfidence = *minConfidence
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path onto cfg.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

// Validate checks option ranges and required credentials. Missing API keys
// are a startup error: every boundary call would fail, so the process must
// refuse to start rather than idle with a dead judge.
func (c Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY (or GOOGLE_API_KEY) must be set")
	}
	if c.VoiceAPIKey == "" {
		return errors.New("CARTESIA_API_KEY must be set")
	}
	if c.SampleInterval <= 0 {
		return errors.New("sample interval must be > 0")
	}
	if c.Threshold < 1 {
		return errors.New("threshold must be >= 1")
	}
	if strings.TrimSpace(c.JudgeModel) == "" {
		return errors.New("judge model must not be empty")
	}
	if strings.TrimSpace(c.ChatModel) == "" {
		return errors.New("generation model must not be empty")
	}
	if strings.TrimSpace(c.VoiceID) == "" {
		return errors.New("voice identity must not be empty")
	}
	if c.VAD.SilenceDuration <= 0 {
		return errors.New("vad silence duration must be > 0")
	}
	if c.VAD.MinVolume < 0 || c.VAD.MinVolume > 1 {
		return errors.New("vad min volume must be between 0 and 1")
	}
	if c.VAD.MinConfidence < 0 || c.VAD.MinConfidence > 1 {
		return errors.New("vad min confidence must be between 0 and 1")
	}
	return nil
}
