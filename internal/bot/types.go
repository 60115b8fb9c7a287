// Package bot contains the message-to-command core: prefix resolution, the
// immutable command registry, and the dispatcher that runs handlers on a
// bounded worker pool.
package bot

import (
	"context"
	"strconv"
	"time"

	"whizbot/internal/config"
	"whizbot/internal/exchange"
	"whizbot/internal/runtime/supervisor"
	"whizbot/internal/services/recur"
	"whizbot/internal/services/remind"
	"whizbot/internal/services/session"
	"whizbot/internal/storage"
	kit "whizbot/internal/transport"
	logx "whizbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Category    string // help grouping, e.g. "general", "reminders"
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Services are the shared collaborators handed to every handler.
type Services struct {
	Reminders *remind.Service
	Sessions  *session.Store
	Recur     *recur.Service
	Exchange  exchange.Exchanger
	Audit     storage.Store

	StartedAt time.Time
	Runtime   func() supervisor.Counters // optional, for /stats
}

// Request carries one resolved command invocation through the middleware
// chain into its handler.
type Request struct {
	Msg     kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ArgText string // raw text after the command token
	ReqID   string

	Adapter  kit.Adapter
	Config   *config.Config
	Logger   logx.Logger
	Services *Services
	Owners   []int64
}

// Reply sends text back into the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// IsOwner reports whether the sender is one of the configured bot owners.
func (r *Request) IsOwner() bool {
	for _, o := range r.Owners {
		if o == r.FromID {
			return true
		}
	}
	return false
}

// ChatKey is the chat-scoped owner key used for reminders and timers, so
// announcements land back in the chat that scheduled them.
func (r *Request) ChatKey() string { return r.Chat.Key() }

// SenderKey is the user-scoped owner key used for chat sessions.
func (r *Request) SenderKey() string { return strconv.FormatInt(r.FromID, 10) }
