// Package budget estimates token usage and trims conversation history to fit
// a model's context window. zudu runs against several chat backends with
// different tokenizers, so it uses a conservative character heuristic:
// 1 token ≈ 4 characters.
package budget

import (
	"github.com/54b3r/zudu-go/internal/chat"
)

const (
	charsPerToken = 4

	// perMessageOverhead approximates the framing tokens most chat APIs add
	// per message.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default input budget. It fits 8k-context
	// models with room left for the reply.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessage returns the estimated tokens for m, counting every content
// segment.
func EstimateMessage(m *chat.Message) int {
	if m == nil {
		return 0
	}
	total := perMessageOverhead + Estimate(string(m.Role))
	for _, seg := range m.Content {
		total += Estimate(seg)
	}
	return total
}

// EstimateHistory sums [EstimateMessage] over h.
func EstimateHistory(h *chat.History) int {
	if h == nil {
		return 0
	}
	total := 0
	for _, m := range h.Items {
		total += EstimateMessage(m)
	}
	return total
}

// Trim drops the oldest conversational messages from h until it fits within
// maxTokens. A leading system message and the final message (the current
// user turn) are never dropped; if they alone exceed the budget, every other
// message is removed and the caller should warn. It returns the number of
// messages dropped.
func Trim(h *chat.History, maxTokens int) int {
	if h == nil || len(h.Items) <= 1 {
		return 0
	}

	first := 0
	if head, ok := h.Head(); ok && head.Role == chat.RoleSystem {
		first = 1
	}

	total := EstimateHistory(h)
	dropped := 0
	for total > maxTokens && first < len(h.Items)-1 {
		total -= EstimateMessage(h.Items[first])
		h.Items = append(h.Items[:first], h.Items[first+1:]...)
		dropped++
	}
	return dropped
}
