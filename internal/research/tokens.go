package research

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens with the cl100k_base encoding. The
// encoding tables load lazily; when loading fails (offline host) the
// counter falls back to a bytes/4 estimate so budgeting still bounds
// the context.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter. Loading is deferred to first use.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return approxTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

func approxTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}
