package chatcmd

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"whizbot/internal/bot"
	"whizbot/internal/config"
	"whizbot/internal/exchange"
	"whizbot/internal/services/session"
	kit "whizbot/internal/transport"
	logx "whizbot/pkg/logx"
)

type sendRec struct {
	texts []string
}

func (r *sendRec) Start(context.Context, chan<- kit.Message) error { return nil }
func (r *sendRec) Stop(context.Context) error                      { return nil }
func (r *sendRec) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.texts = append(r.texts, text)
	return kit.MessageRef{}, nil
}
func (r *sendRec) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

type fakeExchanger struct {
	reply string
	err   error
	seen  []session.Turn
}

func (f *fakeExchanger) Exchange(_ context.Context, turns []session.Turn) (string, error) {
	f.seen = turns
	return f.reply, f.err
}

func newChatReq(t *testing.T, argText string, ex exchange.Exchanger, store *session.Store, rec *sendRec) *bot.Request {
	t.Helper()
	cfg := &config.Config{}
	cfg.Sessions.SystemPrompt = "be brief"
	return &bot.Request{
		Msg:      kit.Message{ChatID: 100, FromID: 7, Text: "/chat " + argText},
		Chat:     kit.ChatTarget{ChatID: 100},
		FromID:   7,
		Command:  "chat",
		Args:     strings.Fields(argText),
		ArgText:  argText,
		Adapter:  rec,
		Config:   cfg,
		Logger:   logx.Nop(),
		Services: &bot.Services{Sessions: store, Exchange: ex},
	}
}

func chatHandler(t *testing.T) bot.HandlerFunc {
	t.Helper()
	cmds := Commands()
	if len(cmds) != 1 || cmds[0].Name != "chat" {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
	return cmds[0].Handle
}

func TestChatExchangeSuccess(t *testing.T) {
	t.Parallel()
	store := session.New(session.Config{}, logx.Nop(), nil)
	ex := &fakeExchanger{reply: "hi there"}
	rec := &sendRec{}

	handle := chatHandler(t)
	if err := handle(context.Background(), newChatReq(t, "hello", ex, store, rec)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// The downstream saw system + user.
	if len(ex.seen) != 2 || ex.seen[0].Role != session.RoleSystem || ex.seen[1].Text != "hello" {
		t.Fatalf("exchange saw %+v", ex.seen)
	}
	if len(rec.texts) != 1 || !strings.Contains(rec.texts[0], "hi there") {
		t.Fatalf("replies = %v", rec.texts)
	}

	// The assistant turn landed in the session.
	turns, fresh := store.GetOrCreate("7", "ignored")
	if fresh {
		t.Fatal("session should persist across exchanges")
	}
	if len(turns) != 3 || turns[2].Role != session.RoleAssistant || turns[2].Text != "hi there" {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestChatRollsBackOnExchangeFailure(t *testing.T) {
	t.Parallel()
	store := session.New(session.Config{}, logx.Nop(), nil)
	ex := &fakeExchanger{err: errors.New("downstream down")}
	rec := &sendRec{}

	handle := chatHandler(t)
	if err := handle(context.Background(), newChatReq(t, "hello", ex, store, rec)); err == nil {
		t.Fatal("expected handler error")
	}

	// The dangling user turn is gone; a retry starts clean.
	turns, _ := store.GetOrCreate("7", "be brief")
	if len(turns) != 1 || turns[0].Role != session.RoleSystem {
		t.Fatalf("turns after failure = %+v", turns)
	}
	if len(rec.texts) != 0 {
		t.Fatalf("handler should not reply on generic failure, got %v", rec.texts)
	}
}

func TestChatUnavailable(t *testing.T) {
	t.Parallel()
	store := session.New(session.Config{}, logx.Nop(), nil)
	rec := &sendRec{}

	handle := chatHandler(t)
	if err := handle(context.Background(), newChatReq(t, "hello", exchange.Disabled{}, store, rec)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.texts) != 1 || !strings.Contains(rec.texts[0], "not configured") {
		t.Fatalf("replies = %v", rec.texts)
	}
}

func TestChatEnd(t *testing.T) {
	t.Parallel()
	store := session.New(session.Config{}, logx.Nop(), nil)
	ex := &fakeExchanger{reply: "ok"}
	rec := &sendRec{}
	handle := chatHandler(t)

	// End without a session.
	if err := handle(context.Background(), newChatReq(t, "end", ex, store, rec)); err != nil {
		t.Fatalf("handle end: %v", err)
	}
	if !strings.Contains(rec.texts[len(rec.texts)-1], "No active") {
		t.Fatalf("replies = %v", rec.texts)
	}

	// Start one, then end it.
	if err := handle(context.Background(), newChatReq(t, "hello", ex, store, rec)); err != nil {
		t.Fatalf("handle chat: %v", err)
	}
	if err := handle(context.Background(), newChatReq(t, "end", ex, store, rec)); err != nil {
		t.Fatalf("handle end: %v", err)
	}
	if !strings.Contains(rec.texts[len(rec.texts)-1], "ended") {
		t.Fatalf("replies = %v", rec.texts)
	}
	if got := store.Count(); got != 0 {
		t.Fatalf("Count = %d, want 0", got)
	}
}

// gatedExchanger blocks its first call until released, then fails it; later
// calls answer with a reply derived from the question they saw.
type gatedExchanger struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedExchanger) Exchange(_ context.Context, turns []session.Turn) (string, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	if first {
		close(g.entered)
		<-g.release
		return "", errors.New("downstream down")
	}
	return "answer-" + turns[len(turns)-1].Text, nil
}

func TestChatConcurrentSameOwnerKeepsTurnsPaired(t *testing.T) {
	t.Parallel()
	store := session.New(session.Config{}, logx.Nop(), nil)
	ex := &gatedExchanger{entered: make(chan struct{}), release: make(chan struct{})}
	handle := chatHandler(t)

	// First request appends its user turn and stalls inside the exchange.
	errs := make(chan error, 2)
	go func() {
		errs <- handle(context.Background(), newChatReq(t, "one", ex, store, &sendRec{}))
	}()
	<-ex.entered

	// Second request from the same owner arrives while the first is mid
	// flight. It must wait for the owner gate instead of interleaving.
	go func() {
		errs <- handle(context.Background(), newChatReq(t, "two", ex, store, &sendRec{}))
	}()
	time.Sleep(50 * time.Millisecond)
	close(ex.release)

	failed := 0
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if err != nil {
				failed++
			}
		case <-time.After(2 * time.Second):
			t.Fatal("handlers did not finish")
		}
	}
	if failed != 1 {
		t.Fatalf("failed handlers = %d, want 1", failed)
	}

	// The failed request rolled back its own turn and nothing else: what
	// remains is one user question with the matching answer.
	turns, fresh := store.GetOrCreate("7", "ignored")
	if fresh {
		t.Fatal("session should survive both requests")
	}
	if len(turns) != 3 {
		t.Fatalf("turns = %+v", turns)
	}
	if turns[1].Role != session.RoleUser || turns[2].Role != session.RoleAssistant {
		t.Fatalf("turns = %+v", turns)
	}
	if turns[2].Text != "answer-"+turns[1].Text {
		t.Fatalf("answer %q does not match question %q", turns[2].Text, turns[1].Text)
	}
	for _, tr := range turns {
		if tr.Role == session.RoleUser && tr.Text == "one" {
			t.Fatalf("failed request's turn survived: %+v", turns)
		}
	}
}
