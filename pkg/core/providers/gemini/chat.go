package gemini

import (
	"context"
	"strings"

	"github.com/sherpa-ai/sherpa/pkg/core"
	"github.com/sherpa-ai/sherpa/pkg/core/types"
)

// Chat adapts the Client to the conversation generation boundary: ordered
// turn history in, one assistant text out.
type Chat struct {
	client    *Client
	model     string
	maxTokens int
}

// NewChat creates a generation boundary on the given model.
func NewChat(client *Client, model string) *Chat {
	return &Chat{
		client:    client,
		model:     model,
		maxTokens: DefaultMaxTokens,
	}
}

// Generate sends the turn history and returns the assistant's reply.
// The system turn becomes the system instruction; user and assistant turns
// map onto Gemini's user/model roles.
func (c *Chat) Generate(ctx context.Context, turns []types.Turn) (string, error) {
	req := &Request{
		GenerationConfig: &GenerationConfig{MaxOutputTokens: c.maxTokens},
	}

	for _, turn := range turns {
		switch turn.Speaker {
		case types.SpeakerSystem:
			req.SystemInstruction = &Content{Parts: []Part{{Text: turn.Text}}}
		case types.SpeakerUser:
			req.Contents = append(req.Contents, Content{Role: "user", Parts: []Part{{Text: turn.Text}}})
		case types.SpeakerAssistant:
			req.Contents = append(req.Contents, Content{Role: "model", Parts: []Part{{Text: turn.Text}}})
		}
	}

	// Gemini requires at least one content entry; an opening exchange has
	// only the system turn so far.
	if len(req.Contents) == 0 {
		req.Contents = append(req.Contents, Content{Role: "user", Parts: []Part{{Text: "Begin."}}})
	}

	text, err := c.client.GenerateContent(ctx, c.model, req)
	if err != nil {
		return "", err
	}

	reply := strings.TrimSpace(text)
	if reply == "" {
		return "", core.NewMalformedResponse("empty assistant reply", nil)
	}
	return reply, nil
}
