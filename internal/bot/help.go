package bot

import (
	"context"
	"strings"
)

// BuildRegistry freezes the command set with the auto-injected help command.
func BuildRegistry(cmds []Command) (*Registry, error) {
	var reg *Registry
	help := Command{
		Name:        "help",
		Aliases:     []string{"menu", "h"},
		Category:    "general",
		Description: "show the command list",
		Usage:       "help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			prefix := "/"
			if ps := req.Config.EffectivePrefixes(); len(ps) > 0 {
				prefix = ps[0]
			}
			if len(req.Args) > 0 {
				return req.Reply(ctx, commandHelp(reg, prefix, req.Args[0]))
			}
			return req.Reply(ctx, helpText(reg, prefix))
		},
	}
	r, err := NewRegistry(append(cmds, help))
	reg = r
	return r, err
}

func helpText(reg *Registry, prefix string) string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	lastCat := ""
	for _, c := range reg.Commands() {
		if c.Category != lastCat {
			lastCat = c.Category
			b.WriteString("\n")
			if c.Category != "" {
				b.WriteString(strings.ToUpper(c.Category[:1]) + c.Category[1:] + "\n")
			}
		}
		b.WriteString("  ")
		b.WriteString(prefix)
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nUse ")
	b.WriteString(prefix)
	b.WriteString("help <command> for usage.")
	return b.String()
}

func commandHelp(reg *Registry, prefix, name string) string {
	c, ok := reg.Lookup(name)
	if !ok {
		return "No such command: " + name
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(c.Name)
	if c.Description != "" {
		b.WriteString(" - ")
		b.WriteString(c.Description)
	}
	if c.Usage != "" {
		b.WriteString("\nUsage: ")
		b.WriteString(prefix)
		b.WriteString(c.Usage)
	}
	if len(c.Aliases) > 0 {
		b.WriteString("\nAliases: ")
		b.WriteString(strings.Join(c.Aliases, ", "))
	}
	return b.String()
}
