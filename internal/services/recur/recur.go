// Package recur runs recurring announcements (cron or fixed-interval specs)
// on behalf of chat owners. Unlike the one-shot reminder service, entries
// here re-fire until removed; execution goes through a small worker pool so
// a slow announcement can't delay the cron clock.
package recur

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "whizbot/pkg/logx"
)

type Config struct {
	Enabled        bool
	Workers        int
	DefaultTimeout time.Duration
	HistorySize    int
	Timezone       string // IANA TZ, e.g. "Asia/Jakarta"
}

// AnnounceFunc delivers one recurring announcement to its owner.
type AnnounceFunc func(ctx context.Context, owner, text string) error

// EntryInfo is a read-only snapshot of a registered recurring entry.
type EntryInfo struct {
	ID        string
	Owner     string
	Spec      string
	Text      string
	CreatedAt time.Time
	NextRun   time.Time
}

// HistoryItem records one completed run.
type HistoryItem struct {
	ID       string
	Owner    string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type entry struct {
	id      string
	owner   string
	spec    string
	text    string
	created time.Time
	cronID  cron.EntryID
}

type job struct {
	id    string
	owner string
	text  string
}

type Service struct {
	mu sync.Mutex

	log      logx.Logger
	cfg      Config
	announce AnnounceFunc

	parser  cron.Parser
	c       *cron.Cron
	entries map[string]*entry

	queue  chan job
	stopCh chan struct{}
	seq    atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, announce AnnounceFunc, log logx.Logger) *Service {
	return &Service{
		cfg:      cfg,
		announce: announce,
		log:      log.With(logx.String("comp", "recur")),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries:  map[string]*entry{},
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	s.queue = make(chan job, 256)

	loc := s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for i := 0; i < workers; i++ {
		go s.worker(ctx, s.stopCh, s.queue)
	}
	s.c.Start()
	s.log.Info("recur service started", logx.Int("workers", workers), logx.String("tz", loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		select {
		case <-s.c.Stop().Done():
		case <-ctx.Done():
		}
		s.c = nil
	}
	s.log.Info("recur service stopped")
}

// Apply updates runtime settings. A timezone change restarts the cron clock
// and re-registers every entry against the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.stopCh == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}

	<-s.c.Stop().Done()
	loc := s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, e := range s.entries {
		cronID, err := s.registerLocked(e)
		if err != nil {
			s.log.Warn("entry dropped on timezone change", logx.String("id", e.id), logx.Err(err))
			delete(s.entries, e.id)
			continue
		}
		e.cronID = cronID
	}
	s.c.Start()
	s.log.Info("recur service restarted", logx.String("tz", loc.String()))
}

// Add registers a recurring announcement. The raw spec accepts cron
// expressions, "@every"-style descriptors, HH:MM intervals, and Go durations
// (see ParseSpec).
func (s *Service) Add(owner, rawSpec, text string) (string, error) {
	parsed, err := ParseSpec(rawSpec)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return "", errors.New("recur service not started")
	}

	e := &entry{
		id:      fmt.Sprintf("c%d", s.seq.Add(1)),
		owner:   owner,
		spec:    parsed.Normalized(),
		text:    text,
		created: time.Now(),
	}
	cronID, err := s.registerLocked(e)
	if err != nil {
		// Covers cron expressions that pass our prefix heuristics but fail
		// the cron parser proper.
		return "", fmt.Errorf("%w %q: %v", ErrBadSpec, rawSpec, err)
	}
	e.cronID = cronID
	s.entries[e.id] = e

	s.log.Debug("recurring entry added",
		logx.String("id", e.id),
		logx.String("owner", owner),
		logx.String("spec", e.spec),
	)
	return e.id, nil
}

// Remove drops an entry. The owner must match; other owners' ids are
// reported as unknown.
func (s *Service) Remove(owner, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.owner != owner {
		return false
	}
	if s.c != nil {
		s.c.Remove(e.cronID)
	}
	delete(s.entries, id)
	s.log.Debug("recurring entry removed", logx.String("id", id), logx.String("owner", owner))
	return true
}

// List returns the owner's entries ordered by creation.
func (s *Service) List(owner string) []EntryInfo {
	s.mu.Lock()
	out := make([]EntryInfo, 0, 4)
	for _, e := range s.entries {
		if e.owner != owner {
			continue
		}
		info := EntryInfo{
			ID: e.id, Owner: e.owner, Spec: e.spec, Text: e.text, CreatedAt: e.created,
		}
		if s.c != nil {
			info.NextRun = s.c.Entry(e.cronID).Next
		}
		out = append(out, info)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the total number of registered entries.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// History returns a copy of the recent run history, newest last.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) registerLocked(e *entry) (cron.EntryID, error) {
	id, owner, text := e.id, e.owner, e.text
	return s.c.AddFunc(e.spec, func() {
		select {
		case s.queue <- job{id: id, owner: owner, text: text}:
		default:
			s.log.Warn("recur queue full, dropping run", logx.String("id", id))
		}
	})
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.runOne(ctx, j)
		}
	}
}

func (s *Service) runOne(ctx context.Context, j job) {
	start := time.Now()
	runCtx := ctx
	if s.cfg.DefaultTimeout > 0 {
		var cancel func()
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.DefaultTimeout)
		defer cancel()
	}

	var err error
	if s.announce != nil {
		err = s.announce(runCtx, j.owner, j.text)
	}

	item := HistoryItem{
		ID:       j.id,
		Owner:    j.owner,
		Started:  start,
		Duration: time.Since(start),
	}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("recurring run failed", logx.String("id", j.id), logx.Err(err))
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if s.cfg.HistorySize > 0 && len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
