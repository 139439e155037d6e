package research

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// DefaultOpenAIModel is used when neither config nor request names a
// model.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider calls the OpenAI chat completions API. With a base
// URL it doubles as the local provider for any OpenAI-compatible
// server (Ollama, LM Studio, vLLM).
type OpenAIProvider struct {
	client openai.Client
	name   string
}

// NewOpenAIProvider creates the hosted OpenAI provider.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	// SDK retries are disabled; the engine owns the retry policy.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), name: "openai"}
}

// NewLocalProvider creates an OpenAI-compatible client against a local
// server.
func NewLocalProvider(baseURL, apiKey string) *OpenAIProvider {
	if apiKey == "" {
		// Local servers ignore the key but the client requires one.
		apiKey = "local"
	}
	p := NewOpenAIProvider(apiKey, baseURL)
	p.name = "local"
	return p
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete generates one chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, providerRejected(p.name, errors.New("response has no choices"))
	}
	return &Completion{
		Text:       resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}

func (p *OpenAIProvider) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return rateLimited(p.name, retryAfterSeconds(apiErr.Response), apiErr)
		case apiErr.StatusCode >= 500:
			return providerUnavailable(p.name, apiErr)
		default:
			return providerRejected(p.name, apiErr)
		}
	}
	return providerUnavailable(p.name, err)
}

func retryAfterSeconds(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	s, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || s < 0 {
		return 0
	}
	return s
}
