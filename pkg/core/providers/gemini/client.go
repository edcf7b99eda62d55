// Package gemini is a minimal client for the Google Gemini generateContent
// API. It serves both the observation judge (vision) and the conversation
// generation boundary.
//
// The Gemini API uses camelCase JSON field names.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sherpa-ai/sherpa/pkg/core"
)

const (
	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultMaxTokens bounds responses when the caller does not.
	DefaultMaxTokens = 1024
)

// Client calls the Gemini REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Gemini client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Blob is inline binary data.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

// Part is a single part within content.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Content is one role-attributed message.
type Content struct {
	Role  string `json:"role,omitempty"` // "user" or "model"
	Parts []Part `json:"parts"`
}

// GenerationConfig tunes decoding.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// SafetySetting relaxes or tightens a harm category.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// Request is the generateContent request body.
type Request struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []SafetySetting   `json:"safetySettings,omitempty"`
}

type response struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GenerateContent sends one request and returns the first candidate's
// concatenated text.
func (c *Client) GenerateContent(ctx context.Context, model string, req *Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", core.NewBoundaryUnavailable("gemini request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.NewBoundaryUnavailable("read gemini response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", parseAPIError(resp.StatusCode, respBody)
	}

	return extractText(respBody)
}

// parseAPIError maps a non-200 response onto the error taxonomy.
func parseAPIError(status int, body []byte) error {
	var ae apiError
	msg := fmt.Sprintf("gemini status %d", status)
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		msg = fmt.Sprintf("gemini status %d (%s): %s", status, ae.Error.Status, ae.Error.Message)
	}
	return core.NewBoundaryUnavailable(msg, nil)
}

// extractText pulls the first candidate's text out of a 200 response.
func extractText(body []byte) (string, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return "", core.NewMalformedResponse("decode gemini response", err)
	}
	if len(r.Candidates) == 0 {
		return "", core.NewMalformedResponse("gemini response has no candidates", nil)
	}

	var text bytes.Buffer
	for _, part := range r.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return "", core.NewMalformedResponse("gemini candidate has no text", nil)
	}
	return text.String(), nil
}
