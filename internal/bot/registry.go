package bot

import (
	"fmt"
	"sort"
	"strings"
)

// Registry is the immutable command table. It is built once at startup;
// lookups after that are lock-free.
type Registry struct {
	byName map[string]*Command // lowercase name/alias -> command
	cmds   []Command
}

// NewRegistry validates and freezes the command set. Names and aliases are
// case-insensitive; duplicates are a startup error, not a runtime surprise.
func NewRegistry(cmds []Command) (*Registry, error) {
	byName := make(map[string]*Command, len(cmds)*2)
	list := make([]Command, 0, len(cmds))

	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("invalid command name %q", c.Name)
		}
		if c.Handle == nil {
			return nil, fmt.Errorf("command %q has no handler", name)
		}
		c.Name = name
		list = append(list, c)
		cc := &list[len(list)-1]

		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("duplicate command %q", name)
		}
		byName[name] = cc

		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			if _, dup := byName[a]; dup {
				return nil, fmt.Errorf("duplicate alias %q (command %q)", a, name)
			}
			byName[a] = cc
		}
	}

	return &Registry{byName: byName, cmds: list}, nil
}

// Lookup resolves a lowercased name or alias.
func (r *Registry) Lookup(name string) (Command, bool) {
	c, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// Commands returns all registered commands sorted by category then name.
func (r *Registry) Commands() []Command {
	out := append([]Command(nil), r.cmds...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}
