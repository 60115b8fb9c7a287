package bot

import (
	"reflect"
	"testing"
)

func TestResolveVariants(t *testing.T) {
	t.Parallel()
	r := NewResolver([]string{"/", "!", "."})

	tests := []struct {
		name    string
		text    string
		wantOK  bool
		cmd     string
		args    []string
		argText string
	}{
		{name: "slash", text: "/ping", wantOK: true, cmd: "ping"},
		{name: "bang", text: "!ping", wantOK: true, cmd: "ping"},
		{name: "dot", text: ".ping", wantOK: true, cmd: "ping"},
		{name: "args split on whitespace runs", text: "/remind  in   10m to stretch", wantOK: true, cmd: "remind", args: []string{"in", "10m", "to", "stretch"}, argText: "in   10m to stretch"},
		{name: "name lowercased", text: "/PING", wantOK: true, cmd: "ping"},
		{name: "mention stripped", text: "/ping@somebot now", wantOK: true, cmd: "ping", args: []string{"now"}, argText: "now"},
		{name: "leading whitespace is not a command", text: "   /ping", wantOK: false},
		{name: "trailing whitespace ok", text: "/ping   ", wantOK: true, cmd: "ping"},
		{name: "plain text", text: "hello there", wantOK: false},
		{name: "empty", text: "", wantOK: false},
		{name: "bare prefix", text: "/", wantOK: false},
		{name: "prefix then whitespace", text: "!   ", wantOK: false},
		{name: "prefix mid-text", text: "5/5 stars", wantOK: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			name, args, argText, ok := r.Resolve(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if name != tt.cmd {
				t.Fatalf("name = %q, want %q", name, tt.cmd)
			}
			if len(tt.args) > 0 || len(args) > 0 {
				if !reflect.DeepEqual(args, tt.args) {
					t.Fatalf("args = %v, want %v", args, tt.args)
				}
			}
			if tt.argText != "" && argText != tt.argText {
				t.Fatalf("argText = %q, want %q", argText, tt.argText)
			}
		})
	}
}

func TestResolvePrefixOrder(t *testing.T) {
	t.Parallel()
	// "!" is listed before "!!", so it wins and the second '!' becomes part
	// of the command name position.
	r := NewResolver([]string{"!", "!!"})
	name, _, _, ok := r.Resolve("!!ping")
	if !ok {
		t.Fatal("expected a command match")
	}
	if name != "!ping" {
		t.Fatalf("name = %q, want %q (earlier prefix shadows later)", name, "!ping")
	}

	// Reversed order: the longer prefix matches first.
	r2 := NewResolver([]string{"!!", "!"})
	name, _, _, ok = r2.Resolve("!!ping")
	if !ok || name != "ping" {
		t.Fatalf("name = %q ok=%v, want ping/true", name, ok)
	}
}

func TestSetPrefixesSwap(t *testing.T) {
	t.Parallel()
	r := NewResolver([]string{"/"})
	if _, _, _, ok := r.Resolve("#ping"); ok {
		t.Fatal("unexpected match before swap")
	}
	r.SetPrefixes([]string{"#"})
	if _, _, _, ok := r.Resolve("#ping"); !ok {
		t.Fatal("expected match after swap")
	}
	if _, _, _, ok := r.Resolve("/ping"); ok {
		t.Fatal("old prefix should no longer match")
	}
}
