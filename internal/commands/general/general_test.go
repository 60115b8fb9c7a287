package general

import (
	"context"
	"strings"
	"testing"
	"time"

	"whizbot/internal/bot"
	"whizbot/internal/config"
	kit "whizbot/internal/transport"
	logx "whizbot/pkg/logx"
)

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 42 * time.Second, want: "42s"},
		{in: 5*time.Minute + 3*time.Second, want: "5m 3s"},
		{in: 2*time.Hour + 15*time.Minute, want: "2h 15m"},
		{in: 26*time.Hour + 5*time.Minute, want: "1d 2h 5m"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.in); got != tt.want {
				t.Fatalf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

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

func newReq(rec *sendRec, argText string) *bot.Request {
	return &bot.Request{
		Chat:     kit.ChatTarget{ChatID: 1},
		FromID:   1,
		ArgText:  argText,
		Args:     strings.Fields(argText),
		Adapter:  rec,
		Config:   &config.Config{},
		Logger:   logx.Nop(),
		Services: &bot.Services{StartedAt: time.Now().Add(-time.Minute)},
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	rec := &sendRec{}
	if err := handlePing(context.Background(), newReq(rec, "")); err != nil {
		t.Fatalf("handlePing: %v", err)
	}
	if len(rec.texts) != 1 || rec.texts[0] != "pong" {
		t.Fatalf("replies = %v", rec.texts)
	}
}

func TestEcho(t *testing.T) {
	t.Parallel()
	rec := &sendRec{}
	if err := handleEcho(context.Background(), newReq(rec, "  hello world  ")); err != nil {
		t.Fatalf("handleEcho: %v", err)
	}
	if rec.texts[0] != "hello world" {
		t.Fatalf("reply = %q", rec.texts[0])
	}

	if err := handleEcho(context.Background(), newReq(rec, "   ")); err != nil {
		t.Fatalf("handleEcho empty: %v", err)
	}
	if !strings.Contains(rec.texts[1], "Usage") {
		t.Fatalf("reply = %q", rec.texts[1])
	}
}

func TestPrefixShowsDefaults(t *testing.T) {
	t.Parallel()
	rec := &sendRec{}
	if err := handlePrefix(context.Background(), newReq(rec, "")); err != nil {
		t.Fatalf("handlePrefix: %v", err)
	}
	for _, p := range []string{`"/"`, `"!"`, `"."`} {
		if !strings.Contains(rec.texts[0], p) {
			t.Fatalf("reply %q missing %s", rec.texts[0], p)
		}
	}
}

func TestStatsOwnerOnlyRegistered(t *testing.T) {
	t.Parallel()
	for _, c := range Commands() {
		if c.Name == "stats" && c.Access != bot.AccessOwnerOnly {
			t.Fatal("stats must be owner-only")
		}
	}
}
