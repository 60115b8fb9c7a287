package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"whizbot/internal/config"
	kit "whizbot/internal/transport"
	logx "whizbot/pkg/logx"
)

// recordingAdapter captures outbound texts for assertions.
type recordingAdapter struct {
	mu   sync.Mutex
	sent []string
	ch   chan string
}

func newRecordingAdapter() *recordingAdapter {
	return &recordingAdapter{ch: make(chan string, 32)}
}

func (a *recordingAdapter) Start(context.Context, chan<- kit.Message) error { return nil }
func (a *recordingAdapter) Stop(context.Context) error                      { return nil }

func (a *recordingAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	a.ch <- text
	return kit.MessageRef{}, nil
}

func (a *recordingAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *recordingAdapter) waitSend(t *testing.T) string {
	t.Helper()
	select {
	case s := <-a.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a send")
		return ""
	}
}

func (a *recordingAdapter) assertSilent(t *testing.T) {
	t.Helper()
	select {
	case s := <-a.ch:
		t.Fatalf("unexpected send: %q", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestDispatcher(t *testing.T, ad kit.Adapter, owners []int64, cmds []Command) (*Dispatcher, chan kit.Message, func()) {
	t.Helper()
	reg, err := NewRegistry(cmds)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cfgm := config.NewManager("unused")
	cfgm.Commit(&config.Config{})

	d := NewDispatcher(logx.Nop(), ad, cfgm, &Services{}, owners, reg, NewResolver([]string{"/"}), Options{
		Workers:        2,
		HandlerTimeout: time.Second,
	})

	msgs := make(chan kit.Message, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.DispatchLoop(ctx, msgs)
	}()
	return d, msgs, func() {
		cancel()
		<-done
	}
}

func msgFrom(from int64, text string) kit.Message {
	return kit.Message{ChatID: 100, FromID: from, Text: text}
}

func TestDispatchRunsHandler(t *testing.T) {
	t.Parallel()
	ad := newRecordingAdapter()
	_, msgs, stop := newTestDispatcher(t, ad, nil, []Command{
		{Name: "ping", Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "pong")
		}},
	})
	defer stop()

	msgs <- msgFrom(1, "/ping")
	if got := ad.waitSend(t); got != "pong" {
		t.Fatalf("reply = %q, want pong", got)
	}
}

func TestDispatchIgnoresUnknownAndPlainText(t *testing.T) {
	t.Parallel()
	ad := newRecordingAdapter()
	_, msgs, stop := newTestDispatcher(t, ad, nil, []Command{
		{Name: "ping", Handle: nopHandler},
	})
	defer stop()

	msgs <- msgFrom(1, "/doesnotexist")
	msgs <- msgFrom(1, "just chatting about /nothing")
	msgs <- msgFrom(1, "/")
	ad.assertSilent(t)
}

func TestDispatchApologizesOnceOnError(t *testing.T) {
	t.Parallel()
	ad := newRecordingAdapter()
	_, msgs, stop := newTestDispatcher(t, ad, nil, []Command{
		{Name: "boom", Handle: func(context.Context, *Request) error {
			return errors.New("kaput")
		}},
	})
	defer stop()

	msgs <- msgFrom(1, "/boom")
	if got := ad.waitSend(t); got != apologyText {
		t.Fatalf("reply = %q, want apology", got)
	}
	ad.assertSilent(t)
}

func TestDispatchApologizesOnceOnPanic(t *testing.T) {
	t.Parallel()
	ad := newRecordingAdapter()
	_, msgs, stop := newTestDispatcher(t, ad, nil, []Command{
		{Name: "panic", Handle: func(context.Context, *Request) error {
			panic("handler exploded")
		}},
		{Name: "ping", Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "pong")
		}},
	})
	defer stop()

	msgs <- msgFrom(1, "/panic")
	if got := ad.waitSend(t); got != apologyText {
		t.Fatalf("reply = %q, want apology", got)
	}

	// The loop survives the panic and keeps serving.
	msgs <- msgFrom(1, "/ping")
	if got := ad.waitSend(t); got != "pong" {
		t.Fatalf("reply = %q, want pong", got)
	}
}

func TestDispatchOwnerOnly(t *testing.T) {
	t.Parallel()
	ad := newRecordingAdapter()
	d, msgs, stop := newTestDispatcher(t, ad, []int64{42}, []Command{
		{Name: "secret", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "granted")
		}},
	})
	defer stop()

	// Non-owner: silent.
	msgs <- msgFrom(7, "/secret")
	ad.assertSilent(t)

	// Owner: runs.
	msgs <- msgFrom(42, "/secret")
	if got := ad.waitSend(t); got != "granted" {
		t.Fatalf("reply = %q, want granted", got)
	}

	// Hot-swapped owners take effect.
	d.SetOwners([]int64{7})
	msgs <- msgFrom(42, "/secret")
	ad.assertSilent(t)
	msgs <- msgFrom(7, "/secret")
	if got := ad.waitSend(t); got != "granted" {
		t.Fatalf("reply = %q, want granted after owner swap", got)
	}
}

func TestDispatchFailureIsolation(t *testing.T) {
	t.Parallel()
	ad := newRecordingAdapter()
	_, msgs, stop := newTestDispatcher(t, ad, nil, []Command{
		{Name: "bad", Handle: func(context.Context, *Request) error {
			return errors.New("always fails")
		}},
		{Name: "good", Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "ok")
		}},
	})
	defer stop()

	msgs <- msgFrom(1, "/bad")
	msgs <- msgFrom(2, "/good")

	got := map[string]int{}
	got[ad.waitSend(t)]++
	got[ad.waitSend(t)]++
	if got[apologyText] != 1 || got["ok"] != 1 {
		t.Fatalf("unexpected replies: %v", got)
	}
}
