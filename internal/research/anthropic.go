package research

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when neither config nor request names
// a model.
const DefaultAnthropicModel = string(anthropic.ModelClaudeSonnet4_0)

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates the provider.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete generates one message.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		System:      []anthropic.TextBlockParam{{Text: req.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		return nil, p.mapError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &Completion{
		Text:       sb.String(),
		Model:      string(msg.Model),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

func (p *AnthropicProvider) mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return rateLimited(p.Name(), retryAfterSeconds(apiErr.Response), apiErr)
		case apiErr.StatusCode >= 500:
			return providerUnavailable(p.Name(), apiErr)
		default:
			return providerRejected(p.Name(), apiErr)
		}
	}
	return providerUnavailable(p.Name(), err)
}
