package bot

import (
	"strings"
	"sync"
)

// Resolver decides whether a raw message is a command invocation.
//
// Prefixes are tried in configuration order and the first one that starts
// the text wins, so when one prefix is a prefix of another the earlier entry
// shadows the later one. The prefix must start the raw text; leading
// whitespace defeats the match. A match also requires at least one
// non-whitespace character after the prefix. The command name is
// lower-cased; everything else splits on whitespace runs.
type Resolver struct {
	mu       sync.RWMutex
	prefixes []string
}

func NewResolver(prefixes []string) *Resolver {
	r := &Resolver{}
	r.SetPrefixes(prefixes)
	return r
}

// SetPrefixes swaps the prefix list. Safe during hot-reload.
func (r *Resolver) SetPrefixes(prefixes []string) {
	cp := append([]string(nil), prefixes...)
	r.mu.Lock()
	r.prefixes = cp
	r.mu.Unlock()
}

func (r *Resolver) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.prefixes...)
}

// Resolve splits text into a command name and arguments. ok is false when
// the text is plain conversation (no prefix, or a prefix with nothing
// after it).
func (r *Resolver) Resolve(text string) (name string, args []string, argText string, ok bool) {
	if text == "" {
		return "", nil, "", false
	}

	r.mu.RLock()
	prefixes := r.prefixes
	r.mu.RUnlock()

	var rest string
	matched := false
	for _, p := range prefixes {
		if after, found := strings.CutPrefix(text, p); found {
			if strings.TrimSpace(after) == "" {
				// Bare prefix is not a command.
				return "", nil, "", false
			}
			rest = after
			matched = true
			break
		}
	}
	if !matched {
		return "", nil, "", false
	}

	fields := strings.Fields(rest)
	name = strings.ToLower(fields[0])
	// Telegram group mentions: "/ping@somebot".
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, "", false
	}

	args = fields[1:]
	if idx := strings.Index(rest, fields[0]); idx >= 0 {
		argText = strings.TrimSpace(rest[idx+len(fields[0]):])
	}
	return name, args, argText, true
}
