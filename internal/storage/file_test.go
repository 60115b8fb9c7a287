package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "whizbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "  NONE  "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileAppendAudit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	entries := []AuditEntry{
		{Kind: "command", Owner: "100", ChatID: 100, FromID: 7, Command: "ping", OK: true, TookMS: 3},
		{Kind: "command", Owner: "100", ChatID: 100, FromID: 7, Command: "boom", Args: "x y", OK: false, Error: "kaput"},
		{Kind: "announce", Owner: "100/5", ChatID: 100, Command: "reminder", OK: true, At: time.Now()},
	}
	for i, e := range entries {
		if err := st.AppendAudit(context.Background(), e); err != nil {
			t.Fatalf("AppendAudit #%d: %v", i, err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "bot.audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var got []auditRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec auditRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("bad jsonl line: %v", err)
		}
		got = append(got, rec)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(got) != len(entries) {
		t.Fatalf("lines = %d, want %d", len(got), len(entries))
	}
	if got[0].Command != "ping" || !got[0].OK {
		t.Fatalf("line 0 = %+v", got[0])
	}
	if got[1].Error != "kaput" || got[1].OK {
		t.Fatalf("line 1 = %+v", got[1])
	}
	if got[2].Kind != "announce" || got[2].Owner != "100/5" {
		t.Fatalf("line 2 = %+v", got[2])
	}
	if got[0].At == "" {
		t.Fatal("zero At not defaulted")
	}

	// Writes after Close are rejected, not silently dropped.
	if err := st.AppendAudit(context.Background(), AuditEntry{Kind: "command"}); err == nil {
		t.Fatal("expected error after Close")
	}
}
