package research

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"google.golang.org/genai"
)

// DefaultGoogleModel is used when neither config nor request names a
// model.
const DefaultGoogleModel = "gemini-2.0-flash"

// GoogleProvider calls the Gemini API.
type GoogleProvider struct {
	apiKey string

	once   sync.Once
	client *genai.Client
	initEr error
}

// NewGoogleProvider creates the provider. The underlying client is
// built lazily on first use.
func NewGoogleProvider(apiKey string) *GoogleProvider {
	return &GoogleProvider{apiKey: apiKey}
}

// Name returns the provider name.
func (p *GoogleProvider) Name() string { return "google" }

// Complete generates one response.
func (p *GoogleProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	p.once.Do(func() {
		p.client, p.initEr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  p.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if p.initEr != nil {
		return nil, providerUnavailable(p.Name(), p.initEr)
	}

	model := req.Model
	if model == "" {
		model = DefaultGoogleModel
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.User), cfg)
	if err != nil {
		return nil, p.mapError(err)
	}

	out := &Completion{Text: resp.Text(), Model: model}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

func (p *GoogleProvider) mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return rateLimited(p.Name(), 0, err)
		case apiErr.Code >= 500:
			return providerUnavailable(p.Name(), err)
		default:
			return providerRejected(p.Name(), err)
		}
	}
	return providerUnavailable(p.Name(), err)
}
