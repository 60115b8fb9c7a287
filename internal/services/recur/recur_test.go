package recur

import (
	"context"
	"testing"
	"time"

	logx "whizbot/pkg/logx"
)

func startedService(t *testing.T) (*Service, func()) {
	t.Helper()
	s := New(Config{Enabled: true, Workers: 1, HistorySize: 10}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	return s, func() {
		stopCtx, scancel := context.WithTimeout(context.Background(), time.Second)
		s.Stop(stopCtx)
		scancel()
		cancel()
	}
}

func TestAddListRemove(t *testing.T) {
	t.Parallel()
	s, stop := startedService(t)
	defer stop()

	id1, err := s.Add("chat1", "@every 1h", "water the plants")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id2, err := s.Add("chat1", "*/5 * * * *", "standup")
	if err != nil {
		t.Fatalf("Add cron: %v", err)
	}
	if _, err := s.Add("chat2", "10m", "other chat"); err != nil {
		t.Fatalf("Add other owner: %v", err)
	}

	got := s.List("chat1")
	if len(got) != 2 {
		t.Fatalf("List len = %d, want 2", len(got))
	}
	if got[0].ID != id1 || got[1].ID != id2 {
		t.Fatalf("List order = %s,%s want %s,%s", got[0].ID, got[1].ID, id1, id2)
	}
	if got[0].NextRun.IsZero() {
		t.Fatal("NextRun not populated")
	}
	if s.Count() != 3 {
		t.Fatalf("Count = %d, want 3", s.Count())
	}

	// Removing with the wrong owner is a miss.
	if s.Remove("chat2", id1) {
		t.Fatal("Remove with wrong owner should fail")
	}
	if !s.Remove("chat1", id1) {
		t.Fatal("Remove should succeed")
	}
	if s.Remove("chat1", id1) {
		t.Fatal("double Remove should fail")
	}
	if len(s.List("chat1")) != 1 {
		t.Fatal("entry not removed")
	}
}

func TestAddBadSpec(t *testing.T) {
	t.Parallel()
	s, stop := startedService(t)
	defer stop()

	for _, raw := range []string{"nonsense", "* * *", ""} {
		if _, err := s.Add("chat1", raw, "x"); err == nil {
			t.Fatalf("Add(%q) expected error", raw)
		}
	}
	if s.Count() != 0 {
		t.Fatalf("Count = %d, want 0 after failed adds", s.Count())
	}
}

func TestAddBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, nil, logx.Nop())
	if _, err := s.Add("chat1", "10m", "x"); err == nil {
		t.Fatal("Add before Start should fail")
	}
}
