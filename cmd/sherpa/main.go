// Command sherpa monitors the screen for distraction and escalates into a
// spoken coaching conversation when the user drifts off task.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sherpa-ai/sherpa/internal/config"
	"github.com/sherpa-ai/sherpa/internal/dotenv"
	"github.com/sherpa-ai/sherpa/pkg/core/audiodev"
	"github.com/sherpa-ai/sherpa/pkg/core/capture"
	"github.com/sherpa-ai/sherpa/pkg/core/history"
	"github.com/sherpa-ai/sherpa/pkg/core/judge"
	"github.com/sherpa-ai/sherpa/pkg/core/live"
	"github.com/sherpa-ai/sherpa/pkg/core/providers/gemini"
	"github.com/sherpa-ai/sherpa/pkg/core/supervisor"
	"github.com/sherpa-ai/sherpa/pkg/core/tracker"
	"github.com/sherpa-ai/sherpa/pkg/core/types"
	"github.com/sherpa-ai/sherpa/pkg/core/voice/stt"
	"github.com/sherpa-ai/sherpa/pkg/core/voice/tts"
)

const defaultTask = "general productivity"

func main() {
	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "sherpa: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sherpa: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "sherpa: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, in io.Reader, out io.Writer) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	task := promptForTask(in, out)

	// startup boundary failures are unrecoverable and exit non-zero
	grabber, err := capture.NewFFmpegGrabber()
	if err != nil {
		return err
	}

	audioCfg := live.DefaultAudioConfig()
	mic, err := audiodev.NewMic(audioCfg)
	if err != nil {
		return err
	}
	defer mic.Close()

	player, err := audiodev.NewPlayer(audioCfg)
	if err != nil {
		return err
	}
	defer player.Close()

	client := gemini.NewClient(cfg.GeminiAPIKey)
	observer := judge.New(client, cfg.JudgeModel, task)
	chat := gemini.NewChat(client, cfg.ChatModel)
	transcriber := stt.NewCartesia(cfg.VoiceAPIKey)
	synthesizer := tts.NewCartesia(cfg.VoiceAPIKey)

	track := tracker.New(cfg.Threshold)
	store := history.New("")

	pipelineCfg := live.DefaultPipelineConfig()
	pipelineCfg.Audio = audioCfg
	pipelineCfg.Voice = cfg.VoiceID
	pipelineCfg.VAD = live.VADConfig{
		SilenceDuration: cfg.VAD.SilenceDuration,
		MinVolume:       cfg.VAD.MinVolume,
		MinConfidence:   cfg.VAD.MinConfidence,
	}

	sup := supervisor.New(task, cfg.SampleInterval, supervisor.Deps{
		Grabber: grabber,
		Judge:   observer,
		Tracker: track,
		History: store,
		Logger:  logger,
		NewPipeline: func() supervisor.SessionRunner {
			return live.NewPipeline(pipelineCfg, live.Deps{
				Generator:   chat,
				Transcriber: transcriberAdapter{transcriber},
				Synthesizer: synthesizer,
				Mic:         mic,
				Speaker:     player,
				History:     store,
				Logger:      logger,
				OnTurn: func(turn types.Turn) {
					printTurn(out, turn)
				},
			})
		},
		OnVerdict: func(v types.Verdict, d tracker.Decision) {
			printVerdict(out, v, track.Count(), d)
		},
		OnSession: func(s supervisor.Session) {
			fmt.Fprintf(out, "\n--- intervention session %s ---\n", s.ID)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = sup.Run(ctx)
	fmt.Fprintln(out, "\nGoodbye!")
	return err
}

func promptForTask(in io.Reader, out io.Writer) string {
	fmt.Fprint(out, "What are you working on today? ")
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return defaultTask
	}
	task := strings.TrimSpace(scanner.Text())
	if task == "" {
		return defaultTask
	}
	return task
}

func printVerdict(out io.Writer, v types.Verdict, count int, d tracker.Decision) {
	status := "on task"
	if !v.OnTask {
		status = "off task"
	}
	fmt.Fprintf(out, "[%s] %s (%s, confidence %s, count %d, %s)\n",
		v.CapturedAt.Format("15:04:05"), v.Activity, status, v.Confidence, count, d)
}

func printTurn(out io.Writer, turn types.Turn) {
	switch turn.Speaker {
	case types.SpeakerUser:
		fmt.Fprintf(out, "[user] %s\n", turn.Text)
	case types.SpeakerAssistant:
		fmt.Fprintf(out, "[sherpa] %s\n", turn.Text)
	}
}

// transcriberAdapter narrows *stt.Cartesia to the pipeline's stream
// contract.
type transcriberAdapter struct {
	c *stt.Cartesia
}

func (t transcriberAdapter) NewStream(ctx context.Context, opts stt.StreamOptions) (live.TranscriptStream, error) {
	return t.c.NewStream(ctx, opts)
}
