package agent

import (
	"context"
	"testing"
	"time"
)

func TestRegistry_CreateAndGet(t *testing.T) {
	t.Parallel()
	a := newTestAgent(t, &Config{Generator: &fakeGenerator{reply: "ok"}})
	r, stop := NewRegistry(a, time.Hour)
	defer stop()

	s, greeting, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if greeting != DefaultGreeting {
		t.Errorf("greeting = %q", greeting)
	}
	got, err := r.Get(context.Background(), s.ID)
	if err != nil || got != s {
		t.Fatalf("Get returned %v, %v", got, err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if _, err := r.Get(context.Background(), "nope"); !IsNotFound(err) {
		t.Errorf("Get(nope) err = %v, want not found", err)
	}
}

func TestRegistry_EvictsIdleAndResumes(t *testing.T) {
	t.Parallel()
	hist := newMemHistory()
	a := newTestAgent(t, &Config{Generator: &fakeGenerator{reply: "ok"}, History: hist})
	r, stop := NewRegistry(a, time.Hour)
	defer stop()

	s, _, err := r.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n := r.evictIdle(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d after eviction", r.Len())
	}

	resumed, err := r.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get after eviction: %v", err)
	}
	if resumed == s {
		t.Error("expected a resumed session, not the evicted instance")
	}
	if resumed.History().Len() != 2 {
		t.Errorf("resumed history len = %d, want 2", resumed.History().Len())
	}
}

func TestRegistry_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	a := newTestAgent(t, &Config{Generator: &fakeGenerator{}})
	_, stop := NewRegistry(a, 0)
	stop()
	stop()
}
