package remind

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "whizbot/pkg/logx"
)

type announceRec struct {
	mu    sync.Mutex
	calls []Payload
	ch    chan Payload
}

func newAnnounceRec() *announceRec {
	return &announceRec{ch: make(chan Payload, 32)}
}

func (r *announceRec) fn(_ context.Context, _ string, p Payload) {
	r.mu.Lock()
	r.calls = append(r.calls, p)
	r.mu.Unlock()
	r.ch <- p
}

func (r *announceRec) wait(t *testing.T) Payload {
	t.Helper()
	select {
	case p := <-r.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for announcement")
		return Payload{}
	}
}

func (r *announceRec) assertSilent(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case p := <-r.ch:
		t.Fatalf("unexpected announcement: %+v", p)
	case <-time.After(d):
	}
}

func TestScheduleRejectsPast(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	defer s.Stop(context.Background())

	for _, at := range []time.Time{
		time.Now().Add(-time.Second),
		time.Now(),
	} {
		if _, err := s.Schedule("o", at, Payload{Kind: KindReminder}); !errors.Is(err, ErrPastTime) {
			t.Fatalf("Schedule(%v) err = %v, want ErrPastTime", at, err)
		}
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", s.Pending())
	}
}

func TestScheduleFiresOnce(t *testing.T) {
	t.Parallel()
	rec := newAnnounceRec()
	s := New(Config{}, rec.fn, logx.Nop(), nil)
	defer s.Stop(context.Background())

	id, err := s.Schedule("o", time.Now().Add(30*time.Millisecond), Payload{Kind: KindReminder, Text: "stretch"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if id == "" {
		t.Fatal("empty id")
	}

	p := rec.wait(t)
	if p.Text != "stretch" {
		t.Fatalf("payload = %+v", p)
	}
	rec.assertSilent(t, 150*time.Millisecond)

	// Fired task is gone: cancel misses, list is empty.
	if s.Cancel("o", id) {
		t.Fatal("Cancel after fire should report false")
	}
	if got := s.List("o"); len(got) != 0 {
		t.Fatalf("List = %v, want empty", got)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	t.Parallel()
	rec := newAnnounceRec()
	s := New(Config{}, rec.fn, logx.Nop(), nil)
	defer s.Stop(context.Background())

	id, err := s.Schedule("o", time.Now().Add(80*time.Millisecond), Payload{Kind: KindTimer})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !s.Cancel("o", id) {
		t.Fatal("Cancel should report true")
	}
	if s.Cancel("o", id) {
		t.Fatal("second Cancel should report false")
	}
	rec.assertSilent(t, 200*time.Millisecond)
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", s.Pending())
	}
}

func TestIndependentFirings(t *testing.T) {
	t.Parallel()
	rec := newAnnounceRec()
	s := New(Config{AnnounceRatePerSec: 100}, rec.fn, logx.Nop(), nil)
	defer s.Stop(context.Background())

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := s.Schedule("o", time.Now().Add(time.Duration(20+i*10)*time.Millisecond), Payload{Kind: KindReminder, Text: "x"}); err != nil {
			t.Fatalf("Schedule #%d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		rec.wait(t)
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", s.Pending())
	}
}

func TestMaxPerOwner(t *testing.T) {
	t.Parallel()
	s := New(Config{MaxPerOwner: 2}, nil, logx.Nop(), nil)
	defer s.Stop(context.Background())

	at := time.Now().Add(time.Hour)
	if _, err := s.Schedule("o", at, Payload{}); err != nil {
		t.Fatalf("Schedule 1: %v", err)
	}
	if _, err := s.Schedule("o", at, Payload{}); err != nil {
		t.Fatalf("Schedule 2: %v", err)
	}
	if _, err := s.Schedule("o", at, Payload{}); !errors.Is(err, ErrTooMany) {
		t.Fatalf("Schedule 3 err = %v, want ErrTooMany", err)
	}
	// Other owners are unaffected.
	if _, err := s.Schedule("p", at, Payload{}); err != nil {
		t.Fatalf("Schedule other owner: %v", err)
	}
}

func TestListOrderedByTime(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	defer s.Stop(context.Background())

	now := time.Now()
	id3, _ := s.Schedule("o", now.Add(3*time.Hour), Payload{})
	id1, _ := s.Schedule("o", now.Add(1*time.Hour), Payload{})
	id2, _ := s.Schedule("o", now.Add(2*time.Hour), Payload{})

	got := s.List("o")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{id1, id2, id3}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("List[%d].ID = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestStopRejectsNewWork(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	if _, err := s.Schedule("o", time.Now().Add(time.Hour), Payload{}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := s.Schedule("o", time.Now().Add(time.Hour), Payload{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Schedule after Stop err = %v, want ErrStopped", err)
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", s.Pending())
	}
}
