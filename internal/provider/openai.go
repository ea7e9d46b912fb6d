package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"docbot/internal/domain"
)

const (
	openaiDefaultBase       = "https://api.openai.com/v1"
	openaiDefaultModel      = "gpt-4o-mini"
	openaiDefaultEmbedModel = "text-embedding-3-small"
)

// OpenAI streams answers from any OpenAI-compatible chat completions API.
type OpenAI struct {
	client openai.Client
	apiKey string
	model  string
	logger *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Client  *http.Client
	Logger  *slog.Logger
}

func clientOptions(apiKey, apiBase string, httpClient *http.Client) []option.RequestOption {
	if apiBase == "" {
		apiBase = openaiDefaultBase
	}
	return []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(apiBase),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(maxRetries),
	}
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	if cfg.Client == nil {
		cfg.Client = StreamingHTTPClient(defaultHeaderTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		client: openai.NewClient(clientOptions(cfg.APIKey, cfg.APIBase, cfg.Client)...),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Healthy(ctx context.Context) error {
	if o.apiKey == "" {
		return fmt.Errorf("openai: no API key configured")
	}
	return nil
}

func (o *OpenAI) Generate(ctx context.Context, req domain.GenerateRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	model := req.Model
	if model == "" {
		model = o.model
	}
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		Model: openai.ChatModel(model),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			if err := emit(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: text}); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("openai: %w", err)
	}
	return emit(ctx, out, domain.StreamEvent{Type: domain.StreamDone})
}

// OpenAIEmbedder embeds texts through the embeddings endpoint.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

type OpenAIEmbedderConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	Dimensions int // 0 keeps the model's native size
	Client     *http.Client
}

func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = openaiDefaultEmbedModel
	}
	if cfg.Client == nil {
		cfg.Client = RequestHTTPClient(defaultHTTPTimeout)
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(clientOptions(cfg.APIKey, cfg.APIBase, cfg.Client)...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

func (e *OpenAIEmbedder) Name() string { return "openai:" + e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vecs := make([][]float32, len(data))
	for i, d := range data {
		v := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			v[j] = float32(f)
		}
		vecs[i] = v
	}
	return vecs, nil
}
