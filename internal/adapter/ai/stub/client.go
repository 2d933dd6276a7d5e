//go:build ignore

package stub

import (
	"time"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

// Client is a fast, deterministic AI client for local/testing.
// Disabled from builds via the build tag above. E2E uses live providers only.
type Client struct{}

func New() *Client { return &Client{} }

// Evaluate returns a fixed response in the expected grammar.
func (c *Client) Evaluate(_ domain.Context, _ string, _ string) (string, error) {
	// Simulate a tiny bit of processing latency to resemble real work
	time.Sleep(50 * time.Millisecond)
	return "SCORE: 7/10\nFEEDBACK:\n– Strengths: specific and grounded in first-hand evidence.\n– Areas for Improvement: quantify the claims with numbers.", nil
}
