// Package tokencount measures and bounds prompt sizes using tiktoken-go,
// a Go port of OpenAI's tokenizer. Applicant answers are free text of
// arbitrary length, so the orchestrator budgets them in tokens rather than
// characters before dispatch.
package tokencount

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// encodingName is the tokenizer used for budgeting. cl100k_base is the
// GPT-4 family encoding and a close enough approximation for the open
// models served through OpenRouter.
const encodingName = "cl100k_base"

// Counter provides thread-safe token counting and truncation.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewCounter creates a token counter. The underlying encoding is loaded
// lazily on first use.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) encoding() (*tiktoken.Tiktoken, error) {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(encodingName)
	})
	return c.enc, c.err
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) (int, error) {
	enc, err := c.encoding()
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Truncate returns text cut down to at most maxTokens tokens. Text already
// within budget is returned unchanged.
func (c *Counter) Truncate(text string, maxTokens int) (string, error) {
	enc, err := c.encoding()
	if err != nil {
		return "", err
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, nil
	}
	return strings.TrimSpace(enc.Decode(tokens[:maxTokens])), nil
}

// CountChat approximates prompt tokens for one system+user chat request,
// including per-message framing overhead of OpenAI-compatible APIs.
func (c *Counter) CountChat(systemPrompt, userPrompt string) (int, error) {
	enc, err := c.encoding()
	if err != nil {
		return 0, err
	}
	const perMessage = 4 // 3 framing tokens + 1 for the role
	n := 2 * perMessage
	n += len(enc.Encode(systemPrompt, nil, nil))
	n += len(enc.Encode(userPrompt, nil, nil))
	n += 3 // assistant reply priming
	return n, nil
}
