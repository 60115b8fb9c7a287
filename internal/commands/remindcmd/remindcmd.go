// Package remindcmd implements the reminder, timer, and recurring-schedule
// commands on top of the remind and recur services.
package remindcmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whizbot/internal/bot"
	"whizbot/internal/services/recur"
	"whizbot/internal/services/remind"
	"whizbot/internal/timeparse"
)

func Commands() []bot.Command {
	return []bot.Command{
		{
			Name:        "remind",
			Aliases:     []string{"reminder"},
			Category:    "reminders",
			Description: "schedule a one-shot or recurring reminder",
			Usage:       "remind <when> to <text> | remind every <spec> to <text> | remind list | remind cancel <id>",
			Handle:      handleRemind,
		},
		{
			Name:        "timer",
			Category:    "reminders",
			Description: "start a countdown timer",
			Usage:       "timer <duration> [name] | timer list | timer cancel <id>",
			Handle:      handleTimer,
		},
	}
}

func handleRemind(ctx context.Context, req *bot.Request) error {
	arg := strings.TrimSpace(req.ArgText)
	if arg == "" {
		return req.Reply(ctx, remindUsage(req))
	}

	switch req.Args[0] {
	case "list":
		return replyRemindList(ctx, req)
	case "cancel":
		if len(req.Args) < 2 {
			return req.Reply(ctx, "Which one? "+firstPrefix(req)+"remind cancel <id>")
		}
		return cancelByID(ctx, req, req.Args[1])
	case "every":
		rest := strings.TrimSpace(strings.TrimPrefix(arg, req.Args[0]))
		return addRecurring(ctx, req, rest)
	}

	// One-shot form: <when> to|that <text>.
	when, text, ok := splitOnSeparator(arg)
	if !ok {
		return req.Reply(ctx, remindUsage(req))
	}

	at, err := timeparse.When(when, time.Now())
	if err != nil {
		return req.Reply(ctx, "I can't read that time. Try \"in 10 minutes\", \"at 18:30\", or \"tomorrow at 9:00\".")
	}

	id, err := req.Services.Reminders.Schedule(req.ChatKey(), at, remind.Payload{
		Kind: remind.KindReminder,
		Text: text,
	})
	switch {
	case errors.Is(err, remind.ErrPastTime):
		return req.Reply(ctx, "That time is already in the past.")
	case errors.Is(err, remind.ErrTooMany):
		return req.Reply(ctx, "Too many pending reminders here. Cancel one first with "+firstPrefix(req)+"remind cancel <id>.")
	case err != nil:
		return err
	}

	return req.Reply(ctx, fmt.Sprintf("Reminder %s set for %s.", id, formatAt(at)))
}

func handleTimer(ctx context.Context, req *bot.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "Usage: "+firstPrefix(req)+"timer <duration> [name]")
	}

	switch req.Args[0] {
	case "list":
		return replyTimerList(ctx, req)
	case "cancel":
		if len(req.Args) < 2 {
			return req.Reply(ctx, "Which one? "+firstPrefix(req)+"timer cancel <id>")
		}
		if req.Services.Reminders.Cancel(req.ChatKey(), req.Args[1]) {
			return req.Reply(ctx, "Timer "+req.Args[1]+" canceled.")
		}
		return req.Reply(ctx, "No such timer: "+req.Args[1])
	}

	d, err := timeparse.Span(req.Args[0])
	if err != nil {
		// Allow spelled-out durations like "10 minutes".
		d, err = timeparse.Span(strings.TrimSpace(req.ArgText))
		if err != nil {
			return req.Reply(ctx, "I can't read that duration. Try \"5m\", \"1h30m\", or \"10 minutes\".")
		}
		req.Args = req.Args[:1] // whole arg text consumed as the duration
	}

	name := strings.TrimSpace(strings.Join(req.Args[1:], " "))
	at := time.Now().Add(d)

	id, err := req.Services.Reminders.Schedule(req.ChatKey(), at, remind.Payload{
		Kind: remind.KindTimer,
		Name: name,
	})
	switch {
	case errors.Is(err, remind.ErrTooMany):
		return req.Reply(ctx, "Too many running timers here. Cancel one first with "+firstPrefix(req)+"timer cancel <id>.")
	case err != nil:
		return err
	}

	label := ""
	if name != "" {
		label = " \"" + name + "\""
	}
	return req.Reply(ctx, fmt.Sprintf("Timer %s%s set for %s (rings at %s).", id, label, d.Round(time.Second), formatAt(at)))
}

func addRecurring(ctx context.Context, req *bot.Request, arg string) error {
	svc := req.Services.Recur
	if svc == nil || !svc.Enabled() {
		return req.Reply(ctx, "Recurring reminders are disabled.")
	}
	if arg == "" {
		return req.Reply(ctx, "Usage: "+firstPrefix(req)+"remind every <spec> to <text>")
	}

	fields := strings.Fields(arg)
	switch fields[0] {
	case "list":
		return replyRemindList(ctx, req)
	case "cancel":
		if len(fields) < 2 {
			return req.Reply(ctx, "Which one? "+firstPrefix(req)+"remind every cancel <id>")
		}
		if svc.Remove(req.ChatKey(), fields[1]) {
			return req.Reply(ctx, "Recurring reminder "+fields[1]+" canceled.")
		}
		return req.Reply(ctx, "No such recurring reminder: "+fields[1])
	}

	spec, text, ok := splitOnSeparator(arg)
	if !ok {
		// Fall back: first field is the spec, the rest is the text. Works for
		// single-token specs ("5m", "interval:08:00").
		if len(fields) < 2 {
			return req.Reply(ctx, "Usage: "+firstPrefix(req)+"remind every <spec> to <text>")
		}
		spec = fields[0]
		text = strings.TrimSpace(strings.TrimPrefix(arg, fields[0]))
	}

	id, err := svc.Add(req.ChatKey(), spec, text)
	if err != nil {
		if errors.Is(err, recur.ErrBadSpec) {
			return req.Reply(ctx, "I can't read that schedule. Try \"5m\", \"@every 1h\", \"interval:08:00\", or a cron expression.")
		}
		return err
	}

	return req.Reply(ctx, fmt.Sprintf("Recurring reminder %s added (%s).", id, spec))
}

func cancelByID(ctx context.Context, req *bot.Request, id string) error {
	// Recurring entry ids carry a "c" prefix; everything else is one-shot.
	if strings.HasPrefix(id, "c") {
		if svc := req.Services.Recur; svc != nil && svc.Remove(req.ChatKey(), id) {
			return req.Reply(ctx, "Recurring reminder "+id+" canceled.")
		}
		return req.Reply(ctx, "No such reminder: "+id)
	}
	if req.Services.Reminders.Cancel(req.ChatKey(), id) {
		return req.Reply(ctx, "Reminder "+id+" canceled.")
	}
	return req.Reply(ctx, "No such reminder: "+id)
}

func replyRemindList(ctx context.Context, req *bot.Request) error {
	var b strings.Builder

	tasks := req.Services.Reminders.List(req.ChatKey())
	n := 0
	for _, t := range tasks {
		if t.Payload.Kind != remind.KindReminder {
			continue
		}
		n++
		fmt.Fprintf(&b, "%s - %s - %s\n", t.ID, formatAt(t.At), t.Payload.Text)
	}

	if svc := req.Services.Recur; svc != nil && svc.Enabled() {
		for _, e := range svc.List(req.ChatKey()) {
			n++
			fmt.Fprintf(&b, "%s - %s - %s (next %s)\n", e.ID, e.Spec, e.Text, formatAt(e.NextRun))
		}
	}

	if n == 0 {
		return req.Reply(ctx, "No pending reminders here.")
	}
	return req.Reply(ctx, "Pending reminders:\n"+strings.TrimRight(b.String(), "\n"))
}

func replyTimerList(ctx context.Context, req *bot.Request) error {
	var b strings.Builder
	n := 0
	for _, t := range req.Services.Reminders.List(req.ChatKey()) {
		if t.Payload.Kind != remind.KindTimer {
			continue
		}
		n++
		name := t.Payload.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(&b, "%s - %s - rings in %s\n", t.ID, name, time.Until(t.At).Round(time.Second))
	}
	if n == 0 {
		return req.Reply(ctx, "No running timers here.")
	}
	return req.Reply(ctx, "Running timers:\n"+strings.TrimRight(b.String(), "\n"))
}

// splitOnSeparator cuts "<head> to <tail>" or "<head> that <tail>" on the
// first separator occurrence.
func splitOnSeparator(s string) (head, tail string, ok bool) {
	lower := strings.ToLower(s)
	idx, sep := -1, 0
	for _, w := range []string{" to ", " that "} {
		if i := strings.Index(lower, w); i >= 0 && (idx == -1 || i < idx) {
			idx, sep = i, len(w)
		}
	}
	if idx < 0 {
		return "", "", false
	}
	head = strings.TrimSpace(s[:idx])
	tail = strings.TrimSpace(s[idx+sep:])
	if head == "" || tail == "" {
		return "", "", false
	}
	return head, tail, true
}

func remindUsage(req *bot.Request) string {
	p := firstPrefix(req)
	return "Usage:\n" +
		"  " + p + "remind <when> to <text>\n" +
		"  " + p + "remind every <spec> to <text>\n" +
		"  " + p + "remind list\n" +
		"  " + p + "remind cancel <id>"
}

func firstPrefix(req *bot.Request) string {
	if ps := req.Config.EffectivePrefixes(); len(ps) > 0 {
		return ps[0]
	}
	return "/"
}

func formatAt(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("Mon 15:04")
}
