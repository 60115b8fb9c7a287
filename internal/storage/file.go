package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "whizbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend: an append-only JSON
// Lines audit log at <prefix>.audit.jsonl.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	auditFile *os.File
}

type auditRecord struct {
	At      string `json:"at"`
	Kind    string `json:"kind"`
	Owner   string `json:"owner"`
	ChatID  int64  `json:"chat_id,omitempty"`
	FromID  int64  `json:"from_id,omitempty"`
	Command string `json:"cmd"`
	Args    string `json:"args,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"err,omitempty"`
	TookMS  int64  `json:"took_ms,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, auditFile: af}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	rec := auditRecord{
		At:      e.At.Format(time.RFC3339Nano),
		Kind:    e.Kind,
		Owner:   e.Owner,
		ChatID:  e.ChatID,
		FromID:  e.FromID,
		Command: e.Command,
		Args:    e.Args,
		OK:      e.OK,
		Error:   e.Error,
		TookMS:  e.TookMS,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrDisabled
	}
	_, err = s.auditFile.Write(b)
	return err
}
