package chat

import (
	"errors"
	"fmt"
)

// ErrMalformedHistory is returned by [Inject] when the history cannot hold a
// leading system message. It indicates a programming error in the caller.
var ErrMalformedHistory = errors.New("chat: malformed history")

// Inject makes retrieved visible to the next generation call.
//
// When the first message is a system message, retrieved is appended to it as
// a new content segment. Otherwise a new system message holding only
// retrieved is inserted at position 0 and every existing message shifts down
// by one. The history is edited in place.
func Inject(h *History, retrieved string) error {
	if h == nil {
		return fmt.Errorf("%w: nil history", ErrMalformedHistory)
	}
	if len(h.Items) > 0 && h.Items[0] == nil {
		return fmt.Errorf("%w: nil message at position 0", ErrMalformedHistory)
	}

	if head, ok := h.Head(); ok && head.Role == RoleSystem {
		head.Content = append(head.Content, retrieved)
		return nil
	}

	h.Items = append(h.Items, nil)
	copy(h.Items[1:], h.Items[:len(h.Items)-1])
	h.Items[0] = NewMessage(RoleSystem, retrieved)
	return nil
}
