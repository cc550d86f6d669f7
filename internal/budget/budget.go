// Package budget provides token estimation for prompts sent to the answer
// generator. Backends use different tokenizers, so estimates use a
// character heuristic: 1 token ≈ 4 characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// perMessageOverhead approximates the role and framing tokens most chat
	// APIs add to every message.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default prompt budget in tokens. Five
	// default-size chunks plus the instruction template fit well within it.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Check estimates s and reports whether it fits within maxTokens.
// A non-positive maxTokens means no limit.
func Check(s string, maxTokens int) (int, bool) {
	n := Estimate(s)
	return n, maxTokens <= 0 || n <= maxTokens
}
