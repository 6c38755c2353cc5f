package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/54b3r/zudu-go/internal/chat"
	"github.com/54b3r/zudu-go/internal/lead"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "sess-a", chat.RoleUser, "Who founded Zudu?"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.Append(ctx, "sess-a", chat.RoleAssistant, "Prem Kumar."); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := s.Recent(ctx, "sess-a", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != chat.RoleUser || msgs[0].Content != "Who founded Zudu?" {
		t.Errorf("msg[0]: got %s/%s", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != chat.RoleAssistant || msgs[1].Content != "Prem Kumar." {
		t.Errorf("msg[1]: got %s/%s", msgs[1].Role, msgs[1].Content)
	}
}

func Test_Store_RecentLimitKeepsNewestOldestFirst(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, c := range []string{"one", "two", "three", "four", "five"} {
		if err := s.Append(ctx, "sess-b", chat.RoleUser, c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "sess-b", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	want := []string{"three", "four", "five"}
	if len(msgs) != len(want) {
		t.Fatalf("want %d messages, got %d", len(want), len(msgs))
	}
	for i := range want {
		if msgs[i].Content != want[i] {
			t.Errorf("msg[%d]: want %q, got %q", i, want[i], msgs[i].Content)
		}
	}
}

func Test_Store_SessionIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Append(ctx, "x", chat.RoleUser, "from x")
	_ = s.Append(ctx, "y", chat.RoleUser, "from y")

	msgs, err := s.Recent(ctx, "x", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "from x" {
		t.Errorf("session isolation failed: got %v", msgs)
	}

	empty, err := s.Recent(ctx, "nobody", 10)
	if err != nil {
		t.Fatalf("recent empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("want 0 messages, got %d", len(empty))
	}
}

func Test_Store_RejectsSystemRole(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.Append(context.Background(), "s", chat.RoleSystem, "instructions"); err == nil {
		t.Error("expected CHECK constraint to reject system messages")
	}
}

func Test_Store_Leads(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	first, err := lead.New("sess-1", "Ada", "AE", "ada@example.com", "support line")
	if err != nil {
		t.Fatalf("new lead: %v", err)
	}
	first.CreatedAt = time.Unix(1_700_000_000, 0)
	second, err := lead.New("sess-2", "Grace", "Navy", "grace@example.com", "dispatch")
	if err != nil {
		t.Fatalf("new lead: %v", err)
	}
	second.CreatedAt = time.Unix(1_700_000_100, 0)

	for _, l := range []*lead.Lead{first, second} {
		if err := s.SaveLead(ctx, l); err != nil {
			t.Fatalf("save lead: %v", err)
		}
	}

	got, err := s.Leads(ctx, 10)
	if err != nil {
		t.Fatalf("leads: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 leads, got %d", len(got))
	}
	if got[0].Name != "Grace" || got[1].Email != "ada@example.com" {
		t.Errorf("want newest first, got %+v", got)
	}

	if err := s.SaveLead(ctx, first); err == nil {
		t.Error("expected duplicate id to be rejected")
	}
}

func Test_Store_Passages(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	in := []Passage{
		{Position: 0, Content: "Zudu was founded in 2023.", Source: "about.pdf", Kind: "pdf", Title: "about", Vector: []float32{0.1, -0.2, 3.5}},
		{Position: 1, Content: "Prem Kumar is the founder.", Source: "about.pdf", Kind: "pdf", Title: "about", ChunkIndex: 1, Vector: []float32{1, 0, 0}},
	}
	if err := s.AppendPassages(ctx, in); err != nil {
		t.Fatalf("append passages: %v", err)
	}

	n, err := s.CountPassages(ctx)
	if err != nil || n != 2 {
		t.Fatalf("count = %d, %v; want 2", n, err)
	}

	all, err := s.Passages(ctx)
	if err != nil {
		t.Fatalf("passages: %v", err)
	}
	if all[0].Vector[2] != 3.5 || all[1].ChunkIndex != 1 {
		t.Errorf("round trip mismatch: %+v", all)
	}

	p, err := s.Passage(ctx, 1)
	if err != nil {
		t.Fatalf("passage: %v", err)
	}
	if p.Content != "Prem Kumar is the founder." {
		t.Errorf("passage 1 content = %q", p.Content)
	}

	if _, err := s.Passage(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}

	if err := s.DeletePassages(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := s.CountPassages(ctx); n != 0 {
		t.Errorf("count after delete = %d", n)
	}
}

func Test_Store_PersistsAcrossOpen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "zudu.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(ctx, "sess", chat.RoleUser, "persist me"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	msgs, err := reopened.Recent(ctx, "sess", 1)
	if err != nil || len(msgs) != 1 || msgs[0].Content != "persist me" {
		t.Errorf("recent after reopen = %v, %v", msgs, err)
	}
	if err := reopened.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}
