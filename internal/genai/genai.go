// Package genai composes follow-up SMS text using the OpenAI API.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/CallPipe/internal/models"
)

// systemPrompt instructs the model to summarize a finished outbound call into
// a single short SMS. The message must stand alone; recipients cannot reply.
const systemPrompt = "You write a single short follow-up SMS (at most 300 characters) summarizing an automated phone call for the person who received it. Be polite and concrete. Plain text only, no markdown, no placeholders."

// chatCompletionService defines the minimal interface for chat completions.
type chatCompletionService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI chat completion service for composing messages.
type Client struct {
	chat  chatCompletionService
	model openai.ChatModel
}

// Opts holds configuration options for creating a client.
type Opts struct {
	APIKey string
	Model  openai.ChatModel
}

// Option configures the client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel sets the chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// NewClient creates a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable; the model defaults to GPT-4o mini.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient created client", "model", cfg.Model)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model}, nil
}

// GeneratePrompt generates a response for the given user prompt.
func (c *Client) GeneratePrompt(ctx context.Context, system, user string) (string, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: c.model,
	})
	if err != nil {
		slog.Error("genai.GeneratePrompt API error", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.GeneratePrompt returned no choices")
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Compose builds the follow-up SMS body for a finished call session.
func (c *Client) Compose(ctx context.Context, session *models.CallSession, scenario *models.Scenario) (string, error) {
	if session == nil {
		return "", fmt.Errorf("compose: session is nil")
	}
	body, err := c.GeneratePrompt(ctx, systemPrompt, describeSession(session, scenario))
	if err != nil {
		return "", err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", fmt.Errorf("empty completion")
	}
	slog.Debug("genai.Compose generated follow-up body", "sessionID", session.ID, "length", len(body))
	return body, nil
}

// describeSession renders the call outcome as plain text for the model.
func describeSession(session *models.CallSession, scenario *models.Scenario) string {
	var b strings.Builder
	if scenario != nil && scenario.Name != "" {
		fmt.Fprintf(&b, "Call campaign: %s\n", scenario.Name)
	}
	fmt.Fprintf(&b, "Call outcome: %s\n", session.Status)
	if len(session.Answers) == 0 {
		b.WriteString("No questions were answered.\n")
		return b.String()
	}
	b.WriteString("Answers given:\n")
	for _, a := range session.Answers {
		response := a.Label
		if response == "" {
			response = a.Value
		}
		if response == "" && a.AudioURL != "" {
			response = "left a voice message"
		}
		if response == "" {
			response = "no response"
		}
		fmt.Fprintf(&b, "- Q: %s A: %s\n", a.QuestionText, response)
	}
	return b.String()
}
