package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"docbot/internal/domain"
)

const (
	claudeDefaultModel = "claude-3-5-haiku-20241022"
	defaultMaxTokens   = 1024
)

// Claude streams answers from the Anthropic Messages API.
type Claude struct {
	client anthropic.Client
	apiKey string
	model  string
	logger *slog.Logger
}

type ClaudeConfig struct {
	APIBase string // host root or ".../v1"; empty uses the SDK default
	APIKey  string
	Model   string
	Client  *http.Client
	Logger  *slog.Logger
}

// NewClaude creates a new Claude generator.
func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	if cfg.Client == nil {
		cfg.Client = StreamingHTTPClient(defaultHeaderTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.Client),
		option.WithMaxRetries(maxRetries),
	}
	// The SDK appends "v1/messages" itself.
	if base := strings.TrimSuffix(strings.TrimSuffix(cfg.APIBase, "/"), "/v1"); base != "" {
		opts = append(opts, option.WithBaseURL(base+"/"))
	}
	return &Claude{
		client: anthropic.NewClient(opts...),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Healthy(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("claude: no API key configured")
	}
	return nil
}

func (c *Claude) Generate(ctx context.Context, req domain.GenerateRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	if c.apiKey == "" {
		return fmt.Errorf("claude: no API key configured")
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			if err := emit(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: delta.Text}); err != nil {
				return err
			}
		case anthropic.MessageStopEvent:
			c.logger.Debug("claude stream finished", "model", model)
			return emit(ctx, out, domain.StreamEvent{Type: domain.StreamDone})
		}
	}
	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("claude: %w", err)
	}
	return fmt.Errorf("claude: stream ended before message_stop")
}
