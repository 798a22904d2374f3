// Package genai answers the visitor's free-text question using the OpenAI API.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

// systemPrompt frames the assistant for tax-relief intake questions. The
// answer is informational only; anything case-specific is deferred to the
// follow-up consultation.
const systemPrompt = `You are a helpful assistant for a tax relief intake service.
Answer the visitor's question about tax debt, IRS notices, liens, garnishments,
or unfiled returns in two to four plain sentences. Do not give legal advice or
promise outcomes; note that a specialist will follow up with specifics.`

// DefaultRequestTimeout bounds one question-answering call.
const DefaultRequestTimeout = 30 * time.Second

// ClientInterface defines the question-answering operations used by the flow.
type ClientInterface interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey  string
	Model   openai.ChatModel
	Timeout time.Duration
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default chat model.
func WithModel(m openai.ChatModel) Option {
	return func(o *Opts) { o.Model = m }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// chatService abstracts the chat completion call for testing.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// openaiChatService adapts the real OpenAI client to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return s.client.Chat.Completions.New(ctx, params)
}

// Client wraps the OpenAI chat completion API behind the flow's interface.
type Client struct {
	chat    chatService
	model   openai.ChatModel
	timeout time.Duration
}

// NewClient creates a GenAI client, falling back to the OPENAI_API_KEY
// environment variable when no key option is provided.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:   openai.ChatModelGPT4oMini,
		Timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	slog.Debug("GenAI client config loaded", "APIKey_set", cfg.APIKey != "", "model", cfg.Model)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return &Client{
		chat:    &openaiChatService{client: openai.NewClient(option.WithAPIKey(cfg.APIKey))},
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

// Ask sends the visitor's question and returns the generated answer. The call
// carries a bounded timeout; any failure wraps ErrUpstream so the flow can
// degrade to a retry-later message without dropping the conversation.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	slog.Debug("Client.Ask: sending question", "length", len(question))
	resp, err := c.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(question),
		},
	})
	if err != nil {
		slog.Error("Client.Ask: completion failed", "error", err)
		return "", fmt.Errorf("question answering failed: %w", models.ErrUpstream)
	}
	if len(resp.Choices) == 0 {
		slog.Error("Client.Ask: no choices returned")
		return "", fmt.Errorf("question answering returned no choices: %w", models.ErrUpstream)
	}
	answer := resp.Choices[0].Message.Content
	slog.Info("Client.Ask: question answered", "answer_length", len(answer))
	return answer, nil
}
