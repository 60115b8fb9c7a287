// Package general provides the basic utility commands: ping, uptime, about,
// prefix, echo, and the owner-only stats command.
package general

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"whizbot/internal/bot"
)

func Commands() []bot.Command {
	return []bot.Command{
		{
			Name:        "ping",
			Category:    "general",
			Description: "check that the bot is alive",
			Usage:       "ping",
			Handle:      handlePing,
		},
		{
			Name:        "uptime",
			Category:    "general",
			Description: "show how long the bot has been running",
			Usage:       "uptime",
			Handle:      handleUptime,
		},
		{
			Name:        "about",
			Aliases:     []string{"info"},
			Category:    "general",
			Description: "about this bot",
			Usage:       "about",
			Handle:      handleAbout,
		},
		{
			Name:        "prefix",
			Category:    "general",
			Description: "show the configured command prefixes",
			Usage:       "prefix",
			Handle:      handlePrefix,
		},
		{
			Name:        "echo",
			Aliases:     []string{"say"},
			Category:    "general",
			Description: "repeat your message back",
			Usage:       "echo <text>",
			Handle:      handleEcho,
		},
		{
			Name:        "stats",
			Category:    "general",
			Description: "runtime statistics",
			Usage:       "stats",
			Access:      bot.AccessOwnerOnly,
			Handle:      handleStats,
		},
	}
}

func handlePing(ctx context.Context, req *bot.Request) error {
	return req.Reply(ctx, "pong")
}

func handleUptime(ctx context.Context, req *bot.Request) error {
	up := time.Since(req.Services.StartedAt).Round(time.Second)
	return req.Reply(ctx, "Up for "+formatDuration(up))
}

func handleAbout(ctx context.Context, req *bot.Request) error {
	name := "whizbot"
	if req.Config != nil && strings.TrimSpace(req.Config.Bot.Name) != "" {
		name = req.Config.Bot.Name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteString(" - a command and reminder bot.\n")
	b.WriteString("Use ")
	b.WriteString(firstPrefix(req))
	b.WriteString("help to see the command list.")
	return req.Reply(ctx, b.String())
}

func handlePrefix(ctx context.Context, req *bot.Request) error {
	ps := req.Config.EffectivePrefixes()
	quoted := make([]string, 0, len(ps))
	for _, p := range ps {
		quoted = append(quoted, "\""+p+"\"")
	}
	return req.Reply(ctx, "Prefixes: "+strings.Join(quoted, " "))
}

func handleEcho(ctx context.Context, req *bot.Request) error {
	text := strings.TrimSpace(req.ArgText)
	if text == "" {
		return req.Reply(ctx, "Usage: "+firstPrefix(req)+"echo <text>")
	}
	return req.Reply(ctx, text)
}

func handleStats(ctx context.Context, req *bot.Request) error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var b strings.Builder
	fmt.Fprintf(&b, "Uptime: %s\n", formatDuration(time.Since(req.Services.StartedAt).Round(time.Second)))
	fmt.Fprintf(&b, "Goroutines: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(&b, "Heap: %.1f MiB (sys %.1f MiB)\n", float64(ms.HeapAlloc)/(1<<20), float64(ms.Sys)/(1<<20))
	if req.Services.Runtime != nil {
		c := req.Services.Runtime()
		fmt.Fprintf(&b, "Workers: %d active / %d started / %d panics\n", c.Active, c.Started, c.Panics)
	}
	if req.Services.Reminders != nil {
		fmt.Fprintf(&b, "Pending reminders: %d\n", req.Services.Reminders.Pending())
	}
	if req.Services.Recur != nil && req.Services.Recur.Enabled() {
		fmt.Fprintf(&b, "Recurring entries: %d\n", req.Services.Recur.Count())
	}
	if req.Services.Sessions != nil {
		fmt.Fprintf(&b, "Chat sessions: %d\n", req.Services.Sessions.Count())
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func firstPrefix(req *bot.Request) string {
	if ps := req.Config.EffectivePrefixes(); len(ps) > 0 {
		return ps[0]
	}
	return "/"
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.String()
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm %ds", mins, int(d.Seconds())%60)
	}
}
