// Package chat models the conversation history handed to the generation
// step and the context injection applied to it once per user turn.
//
// A message's content is an ordered list of text segments rather than a
// single string, so injected context can be appended to an existing system
// message without rewriting what is already there.
package chat

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleSystem carries instructions and retrieved context.
	RoleSystem Role = "system"
	// RoleUser carries the caller's utterances.
	RoleUser Role = "user"
	// RoleAssistant carries the agent's replies.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single conversation entry.
type Message struct {
	// Role is the message author.
	Role Role `json:"role"`
	// Content is the ordered list of text segments making up the message.
	Content []string `json:"content"`
}

// NewMessage returns a message with a single content segment.
func NewMessage(role Role, text string) *Message {
	return &Message{Role: role, Content: []string{text}}
}

// Text joins the content segments with newlines.
func (m *Message) Text() string {
	return strings.Join(m.Content, "\n")
}

// History is the ordered conversation owned by a session.
type History struct {
	// Items is the ordered message list; Items[0] is the system message.
	Items []*Message `json:"items"`
}

// NewHistory returns a history whose first message is a system message
// holding instructions. An empty instructions string yields an empty history.
func NewHistory(instructions string) *History {
	h := &History{}
	if instructions != "" {
		h.Items = append(h.Items, NewMessage(RoleSystem, instructions))
	}
	return h
}

// Len returns the number of messages.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Items)
}

// Head returns the first message, if any.
func (h *History) Head() (*Message, bool) {
	if h == nil || len(h.Items) == 0 || h.Items[0] == nil {
		return nil, false
	}
	return h.Items[0], true
}

// Append adds a single-segment message to the end of the history.
func (h *History) Append(role Role, text string) {
	h.Items = append(h.Items, NewMessage(role, text))
}

// LastUser returns the text of the final message when it was authored by
// the user.
func (h *History) LastUser() (string, bool) {
	if h.Len() == 0 {
		return "", false
	}
	last := h.Items[len(h.Items)-1]
	if last == nil || last.Role != RoleUser {
		return "", false
	}
	return last.Text(), true
}

// Clone returns a deep copy. Sessions inject retrieved context into a clone
// so the persistent history does not accumulate one segment per turn.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	out := &History{Items: make([]*Message, 0, len(h.Items))}
	for _, m := range h.Items {
		if m == nil {
			out.Items = append(out.Items, nil)
			continue
		}
		out.Items = append(out.Items, &Message{
			Role:    m.Role,
			Content: append([]string(nil), m.Content...),
		})
	}
	return out
}

// Schema converts the history into eino messages for a chat model call.
func (h *History) Schema() []*schema.Message {
	out := make([]*schema.Message, 0, h.Len())
	for _, m := range h.Items {
		if m == nil {
			continue
		}
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(m.Text()))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Text(), nil))
		default:
			out = append(out, schema.UserMessage(m.Text()))
		}
	}
	return out
}
