// Package remind implements the one-shot scheduled task service behind
// reminders and timers. Tasks are ephemeral: they live in memory, wait on a
// timer until their target instant, announce, and remove themselves.
package remind

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"whizbot/internal/eventbus"
	logx "whizbot/pkg/logx"
)

var (
	// ErrPastTime is returned when the target instant is not in the future.
	ErrPastTime = errors.New("time is in the past")
	// ErrTooMany is returned when the per-owner task cap is reached.
	ErrTooMany = errors.New("too many pending tasks")
	// ErrStopped is returned when scheduling after Stop.
	ErrStopped = errors.New("reminder service stopped")
)

// Kind distinguishes the user-facing flavors of a one-shot task.
type Kind string

const (
	KindReminder Kind = "reminder"
	KindTimer    Kind = "timer"
)

// Payload is what gets announced when a task fires.
type Payload struct {
	Kind Kind
	Text string
	Name string // optional display name (timers)
}

// AnnounceFunc delivers a fired task back to its owner. Implementations are
// called from the firing goroutine and should not block for long.
type AnnounceFunc func(ctx context.Context, owner string, p Payload)

// TaskInfo is a read-only snapshot of a pending task.
type TaskInfo struct {
	ID        string
	Owner     string
	At        time.Time
	CreatedAt time.Time
	Payload   Payload
}

type task struct {
	id      string
	owner   string
	at      time.Time
	created time.Time
	payload Payload
	timer   *time.Timer
}

type Config struct {
	MaxPerOwner        int
	AnnounceRatePerSec int
}

// Service owns all pending one-shot tasks, keyed by owner then task id.
// Add and remove are synchronized on one mutex; firing tasks re-check their
// own presence under the same mutex, so a canceled task never announces.
type Service struct {
	mu      sync.Mutex
	byOwner map[string]map[string]*task
	stopped bool

	cfg      Config
	announce AnnounceFunc
	limiter  *rate.Limiter
	log      logx.Logger
	bus      eventbus.Bus

	seq atomic.Uint64
	wg  sync.WaitGroup

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func New(cfg Config, announce AnnounceFunc, log logx.Logger, bus eventbus.Bus) *Service {
	rps := cfg.AnnounceRatePerSec
	if rps < 1 {
		rps = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		byOwner:    map[string]map[string]*task{},
		cfg:        cfg,
		announce:   announce,
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		log:        log.With(logx.String("comp", "remind")),
		bus:        bus,
		baseCtx:    ctx,
		cancelBase: cancel,
	}
}

// Schedule registers a one-shot task for owner that fires at the given
// instant. The instant must be strictly in the future.
func (s *Service) Schedule(owner string, at time.Time, p Payload) (string, error) {
	now := time.Now()
	if !at.After(now) {
		return "", fmt.Errorf("%w: %s", ErrPastTime, at.Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return "", ErrStopped
	}
	bucket := s.byOwner[owner]
	if s.cfg.MaxPerOwner > 0 && len(bucket) >= s.cfg.MaxPerOwner {
		return "", fmt.Errorf("%w (limit %d)", ErrTooMany, s.cfg.MaxPerOwner)
	}

	id := s.nextID(p.Kind)
	t := &task{
		id:      id,
		owner:   owner,
		at:      at,
		created: now,
		payload: p,
	}
	if bucket == nil {
		bucket = map[string]*task{}
		s.byOwner[owner] = bucket
	}
	bucket[id] = t

	s.wg.Add(1)
	t.timer = time.AfterFunc(time.Until(at), func() {
		defer s.wg.Done()
		s.fire(owner, id)
	})

	s.log.Debug("task scheduled",
		logx.String("id", id),
		logx.String("owner", owner),
		logx.Time("at", at),
		logx.String("kind", string(p.Kind)),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventTaskScheduled, Data: TaskInfo{
			ID: id, Owner: owner, At: at, CreatedAt: now, Payload: p,
		}})
	}
	return id, nil
}

// fire runs on the task's timer goroutine. The still-present check under the
// mutex makes cancellation race-free: whoever removes the task first wins.
func (s *Service) fire(owner, id string) {
	s.mu.Lock()
	t, ok := s.byOwner[owner][id]
	if ok {
		s.removeLocked(owner, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx := s.baseCtx
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	if s.announce != nil {
		s.announce(ctx, owner, t.payload)
	}

	s.log.Debug("task fired", logx.String("id", id), logx.String("owner", owner))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventTaskFired, Data: TaskInfo{
			ID: id, Owner: owner, At: t.at, CreatedAt: t.created, Payload: t.payload,
		}})
	}
}

// Cancel stops a pending task. Returns false when the task is unknown or has
// already fired.
func (s *Service) Cancel(owner, id string) bool {
	s.mu.Lock()
	t, ok := s.byOwner[owner][id]
	if ok {
		s.removeLocked(owner, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	// Stop reports false when the timer already fired; the fire path then
	// finds the task gone and announces nothing. Balance the WaitGroup only
	// when we actually prevented the callback.
	if t.timer.Stop() {
		s.wg.Done()
	}

	s.log.Debug("task canceled", logx.String("id", id), logx.String("owner", owner))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventTaskCanceled, Data: TaskInfo{
			ID: id, Owner: owner, At: t.at, CreatedAt: t.created, Payload: t.payload,
		}})
	}
	return true
}

// List returns the owner's pending tasks ordered by target time.
func (s *Service) List(owner string) []TaskInfo {
	s.mu.Lock()
	bucket := s.byOwner[owner]
	out := make([]TaskInfo, 0, len(bucket))
	for _, t := range bucket {
		out = append(out, TaskInfo{
			ID: t.id, Owner: t.owner, At: t.at, CreatedAt: t.created, Payload: t.payload,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Pending returns the total number of pending tasks across owners.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.byOwner {
		n += len(b)
	}
	return n
}

// Stop cancels all pending tasks and waits for in-flight announcements,
// bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	var all []*task
	for owner, bucket := range s.byOwner {
		for _, t := range bucket {
			all = append(all, t)
		}
		delete(s.byOwner, owner)
	}
	s.mu.Unlock()

	for _, t := range all {
		if t.timer.Stop() {
			s.wg.Done()
		}
	}
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// removeLocked deletes the task and drops the owner's bucket when it becomes
// empty, so idle owners leave nothing behind. Caller holds s.mu.
func (s *Service) removeLocked(owner, id string) {
	bucket := s.byOwner[owner]
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(s.byOwner, owner)
	}
}

func (s *Service) nextID(k Kind) string {
	prefix := "r"
	if k == KindTimer {
		prefix = "t"
	}
	return fmt.Sprintf("%s%d", prefix, s.seq.Add(1))
}
