// Package chatcmd implements the conversational chat command backed by the
// session store and a downstream exchange provider.
package chatcmd

import (
	"context"
	"errors"
	"strings"

	"whizbot/internal/bot"
	"whizbot/internal/exchange"
	"whizbot/internal/services/session"
)

func Commands() []bot.Command {
	return []bot.Command{
		{
			Name:        "chat",
			Aliases:     []string{"ai", "ask"},
			Category:    "chat",
			Description: "talk to the assistant",
			Usage:       "chat <text> | chat end",
			Handle:      handleChat,
		},
	}
}

func handleChat(ctx context.Context, req *bot.Request) error {
	text := strings.TrimSpace(req.ArgText)
	if text == "" {
		return req.Reply(ctx, "Say something: "+firstPrefix(req)+"chat <text>. End with "+firstPrefix(req)+"chat end.")
	}

	owner := req.SenderKey()
	store := req.Services.Sessions

	if strings.EqualFold(text, "end") {
		if err := store.End(owner); err != nil {
			if errors.Is(err, session.ErrNoSession) {
				return req.Reply(ctx, "No active chat session.")
			}
			return err
		}
		return req.Reply(ctx, "Chat session ended.")
	}

	prompt := ""
	if req.Config != nil {
		prompt = req.Config.Sessions.SystemPrompt
	}

	// The whole append-exchange-append sequence holds the owner gate, so two
	// concurrent messages from one sender cannot interleave their turns and a
	// rollback can only ever remove this request's own user turn.
	var (
		fresh bool
		reply string
	)
	err := store.WithOwner(owner, func() error {
		_, fresh = store.GetOrCreate(owner, prompt)

		turns, err := store.AppendUserTurn(owner, text)
		if err != nil {
			// The session existed a moment ago; a concurrent end/sweep is the
			// only way to get here.
			return err
		}

		out, err := req.Services.Exchange.Exchange(ctx, turns)
		if err != nil {
			// Keep history consistent for the next attempt.
			store.RollbackLastUserTurn(owner)
			return err
		}

		if _, err := store.AppendAssistantTurn(owner, out); err != nil && !errors.Is(err, session.ErrNoSession) {
			return err
		}
		reply = out
		return nil
	})
	if err != nil {
		if errors.Is(err, exchange.ErrUnavailable) {
			return req.Reply(ctx, "Chat is not configured on this bot.")
		}
		return err
	}

	if fresh {
		reply = "(new session)\n" + reply
	}
	return req.Reply(ctx, reply)
}

func firstPrefix(req *bot.Request) string {
	if ps := req.Config.EffectivePrefixes(); len(ps) > 0 {
		return ps[0]
	}
	return "/"
}
