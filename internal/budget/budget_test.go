package budget

import (
	"strings"
	"testing"

	"github.com/54b3r/zudu-go/internal/chat"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 1},
		{"abcdefgh", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.input); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessage_CountsSegments(t *testing.T) {
	t.Parallel()
	m := &chat.Message{Role: chat.RoleSystem, Content: []string{"12345678", "abcd"}}
	// 4 overhead + Estimate("system")=1 + 2 + 1
	if got := EstimateMessage(m); got != 8 {
		t.Errorf("EstimateMessage = %d, want 8", got)
	}
	if got := EstimateMessage(nil); got != 0 {
		t.Errorf("EstimateMessage(nil) = %d, want 0", got)
	}
}

func Test_EstimateHistory(t *testing.T) {
	t.Parallel()
	h := &chat.History{}
	h.Append(chat.RoleUser, "hello world")
	h.Append(chat.RoleUser, "hello world")
	// Each: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7
	if got := EstimateHistory(h); got != 14 {
		t.Errorf("EstimateHistory = %d, want 14", got)
	}
}

func Test_Trim_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	h := chat.NewHistory("sys")
	h.Append(chat.RoleUser, "hi")
	h.Append(chat.RoleAssistant, "there")
	if dropped := Trim(h, DefaultMaxContextTokens); dropped != 0 || h.Len() != 3 {
		t.Errorf("dropped %d, len %d; want 0, 3", dropped, h.Len())
	}
}

func Test_Trim_DropsOldestKeepsSystemAndCurrent(t *testing.T) {
	t.Parallel()
	h := chat.NewHistory("sys")           // 4 + 1 + 1 = 6
	h.Append(chat.RoleUser, "oldest")     // 4 + 1 + 1 = 6
	h.Append(chat.RoleAssistant, "reply") // 4 + 2 + 1 = 7
	h.Append(chat.RoleUser, "newest")     // 6

	// 25 total; a budget of 19 forces exactly one drop.
	if dropped := Trim(h, 19); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if h.Items[0].Role != chat.RoleSystem {
		t.Error("system head must be kept")
	}
	if h.Items[1].Text() != "reply" || h.Items[2].Text() != "newest" {
		t.Errorf("unexpected remaining history: %q, %q", h.Items[1].Text(), h.Items[2].Text())
	}
}

func Test_Trim_WithoutSystemHead(t *testing.T) {
	t.Parallel()
	h := &chat.History{}
	h.Append(chat.RoleUser, "oldest")
	h.Append(chat.RoleUser, "newest")
	if dropped := Trim(h, 7); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if h.Items[0].Text() != "newest" {
		t.Errorf("want newest retained, got %q", h.Items[0].Text())
	}
}

func Test_Trim_FixedExceedsBudget(t *testing.T) {
	t.Parallel()
	h := chat.NewHistory(strings.Repeat("x", 4*7000))
	h.Append(chat.RoleUser, "a")
	h.Append(chat.RoleAssistant, "b")
	h.Append(chat.RoleUser, "c")

	if dropped := Trim(h, 6000); dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if h.Len() != 2 || h.Items[1].Text() != "c" {
		t.Errorf("want system + current turn, got %d messages", h.Len())
	}
}

func Test_Trim_Nil(t *testing.T) {
	t.Parallel()
	if Trim(nil, 10) != 0 {
		t.Error("nil history should drop nothing")
	}
}
