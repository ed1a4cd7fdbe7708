package llm

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrUnavailable marks failures worth retrying: the endpoint is down,
// overloaded or too slow.
var ErrUnavailable = errors.New("llm: service unavailable")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Completer is the language-model collaborator.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
	HTTPClient  *http.Client
}

// Client talks to a locally hosted OpenAI-compatible server (LM Studio,
// llama.cpp server, Ollama's /v1).
type Client struct {
	api   openai.Client
	model string
	temp  float64
	max   int64
	log   *log.Logger
}

func NewClient(cfg Config) *Client {
	key := cfg.APIKey
	if key == "" {
		// Local servers ignore the key but the SDK insists on one.
		key = "local"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		api:   openai.NewClient(opts...),
		model: cfg.Model,
		temp:  cfg.Temperature,
		max:   cfg.MaxTokens,
		log:   log.Default().With("component", "llm"),
	}
}

func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: convert(messages),
		Model:    openai.ChatModel(c.model),
	}
	if c.temp > 0 {
		params.Temperature = openai.Float(c.temp)
	}
	if c.max > 0 {
		params.MaxTokens = openai.Int(c.max)
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	c.log.Debug("Completed", "took", time.Since(start), "chars", len(content))

	return content, nil
}

func convert(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// classify wraps transient failures with ErrUnavailable.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
			return fmt.Errorf("%w: status %d: %v", ErrUnavailable, code, err)
		}
		return fmt.Errorf("chat completion: %w", err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case strings.Contains(err.Error(), "connection refused"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("chat completion: %w", err)
}

// Transcript renders messages as role-tagged lines, for logs.
func Transcript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
