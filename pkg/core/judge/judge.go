// Package judge sends screen observations to the vision model and returns
// structured verdicts.
package judge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/sherpa-ai/sherpa/pkg/core"
	"github.com/sherpa-ai/sherpa/pkg/core/providers/gemini"
	"github.com/sherpa-ai/sherpa/pkg/core/types"
)

// ContentGenerator is the slice of the Gemini client the judge needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, req *gemini.Request) (string, error)
}

// Judge evaluates one observation at a time against the stated task.
type Judge struct {
	gen   ContentGenerator
	model string
	task  string
}

// New creates a judge for the given task description.
func New(gen ContentGenerator, model, task string) *Judge {
	return &Judge{gen: gen, model: model, task: task}
}

// Task returns the task description the judge evaluates against.
func (j *Judge) Task() string {
	return j.task
}

// verdictWire is the JSON schema the model is instructed to produce.
// Escalation-relevant fields are pointers so a missing field is detectable.
type verdictWire struct {
	ActivityDetected  string `json:"activity_detected"`
	IsOnTask          *bool  `json:"is_on_task"`
	Confidence        string `json:"confidence"`
	Reasoning         string `json:"reasoning"`
	AppOrWebsite      string `json:"app_or_website"`
	NeedsIntervention *bool  `json:"needs_intervention"`
}

// Judge sends one screenshot to the vision model and parses the verdict.
func (j *Judge) Judge(ctx context.Context, png []byte, capturedAt time.Time) (types.Verdict, error) {
	temperature := 0.1
	topP := 0.8
	topK := 40

	req := &gemini.Request{
		Contents: []gemini.Content{{
			Role: "user",
			Parts: []gemini.Part{
				{Text: buildPrompt(j.task, capturedAt)},
				{InlineData: &gemini.Blob{
					MIMEType: "image/png",
					Data:     base64.StdEncoding.EncodeToString(png),
				}},
			},
		}},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature:     &temperature,
			TopP:            &topP,
			TopK:            &topK,
			MaxOutputTokens: 1024,
		},
		SafetySettings: screenshotSafetySettings(),
	}

	text, err := j.gen.GenerateContent(ctx, j.model, req)
	if err != nil {
		return types.Verdict{}, err
	}

	return parseVerdict(text, capturedAt)
}

// parseVerdict decodes the model's JSON reply into a verdict.
func parseVerdict(text string, capturedAt time.Time) (types.Verdict, error) {
	cleaned := stripCodeFences(text)

	var wire verdictWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return types.Verdict{}, core.NewMalformedResponse("decode verdict JSON", err)
	}
	if wire.IsOnTask == nil {
		return types.Verdict{}, core.NewMalformedResponse("verdict missing is_on_task", nil)
	}
	if wire.NeedsIntervention == nil {
		return types.Verdict{}, core.NewMalformedResponse("verdict missing needs_intervention", nil)
	}

	confidence := types.Confidence(strings.ToLower(strings.TrimSpace(wire.Confidence)))
	if !confidence.Valid() {
		return types.Verdict{}, core.NewMalformedResponse("verdict has unknown confidence grade", nil)
	}

	return types.Verdict{
		Activity:          strings.TrimSpace(wire.ActivityDetected),
		OnTask:            *wire.IsOnTask,
		Confidence:        confidence,
		Reasoning:         strings.TrimSpace(wire.Reasoning),
		PrimaryContext:    strings.TrimSpace(wire.AppOrWebsite),
		NeedsIntervention: *wire.NeedsIntervention,
		CapturedAt:        capturedAt,
	}, nil
}

// stripCodeFences removes a surrounding markdown code block, which the model
// emits despite being asked for bare JSON.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// screenshotSafetySettings relaxes the harm filters, which otherwise block
// ordinary screenshots.
func screenshotSafetySettings() []gemini.SafetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	settings := make([]gemini.SafetySetting, 0, len(categories))
	for _, cat := range categories {
		settings = append(settings, gemini.SafetySetting{
			Category:  cat,
			Threshold: "BLOCK_ONLY_HIGH",
		})
	}
	return settings
}
