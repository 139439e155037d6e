package research

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// CompletionRequest is one prompt for a provider.
type CompletionRequest struct {
	System      string
	User        string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Completion is a provider's reply.
type Completion struct {
	Text       string
	Model      string
	TokensUsed int
}

// Provider generates completions. Implementations map transport
// failures to retryable dependency errors: HTTP 429 to the rate-limit
// code, 5xx and connection errors to the unavailable code.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Name() string
}

// NewProvider builds the configured provider. The local provider is
// the OpenAI-compatible client pointed at the configured base URL.
func NewProvider(cfg config.ResearchConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, ""), nil
	case "local":
		return NewLocalProvider(cfg.LocalBaseURL, cfg.APIKey), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey), nil
	case "google":
		return NewGoogleProvider(cfg.APIKey), nil
	default:
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown research provider %q", cfg.Provider), nil).
			WithSuggestion("Use one of: openai, anthropic, google, local")
	}
}

// completeWithRetry makes one attempt plus a single retry after a
// fixed backoff when the provider error is transient.
func completeWithRetry(ctx context.Context, p Provider, req CompletionRequest) (*Completion, error) {
	return amerrors.RetryWithResult(ctx, amerrors.RetryConfig{
		MaxRetries:   1,
		InitialDelay: providerRetryBackoff,
		MaxDelay:     providerRetryBackoff,
		Multiplier:   1,
	}, func() (*Completion, error) {
		return p.Complete(ctx, req)
	})
}

// rateLimited builds the rate-limit error surfaced to clients with a
// Retry-After hint in seconds.
func rateLimited(provider string, retryAfterS int, cause error) *amerrors.AmanError {
	err := amerrors.New(amerrors.ErrCodeRateLimited,
		fmt.Sprintf("%s rate limit exceeded", provider), cause)
	if retryAfterS > 0 {
		err = err.WithDetail("retry_after_s", fmt.Sprintf("%d", retryAfterS))
	}
	return err
}

// providerUnavailable wraps transport and server-side failures.
func providerUnavailable(provider string, cause error) *amerrors.AmanError {
	return amerrors.New(amerrors.ErrCodeLLMUnavailable,
		fmt.Sprintf("%s request failed", provider), cause).
		WithSuggestion("Check the provider API key and network reachability")
}

// providerRejected wraps non-retryable 4xx responses.
func providerRejected(provider string, cause error) *amerrors.AmanError {
	return amerrors.New(amerrors.ErrCodeResearchFailed,
		fmt.Sprintf("%s rejected the request", provider), cause)
}
