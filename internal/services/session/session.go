// Package session keeps short-lived per-owner conversation state for the
// chat command. Sessions expire lazily on access after an idle timeout, and
// history is pruned to a bounded turn count that always keeps the leading
// system turn.
package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"whizbot/internal/eventbus"
	logx "whizbot/pkg/logx"
)

// ErrNoSession is returned by operations that require an existing session.
var ErrNoSession = errors.New("no active session")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role
	Text string
}

type Config struct {
	IdleTimeout time.Duration // default 15m
	MaxTurns    int           // retained turns including system (default 10)
}

const shardCount = 16

type shard struct {
	mu       sync.Mutex
	sessions map[string]*state
}

type state struct {
	turns      []Turn
	lastActive time.Time
}

// Store is a sharded in-memory session store. Operations on the same owner
// serialize on the owner's shard; different owners rarely contend and never
// deadlock against each other.
type Store struct {
	shards [shardCount]shard
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus

	gateMu sync.Mutex
	gates  map[string]*ownerGate

	now func() time.Time // test hook
}

// ownerGate is the per-owner lock handed out by WithOwner. Gates are
// refcounted so the map does not grow with every owner ever seen.
type ownerGate struct {
	mu   sync.Mutex
	refs int
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Store {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Minute
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	s := &Store{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "session")),
		bus:   bus,
		gates: map[string]*ownerGate{},
		now:   time.Now,
	}
	for i := range s.shards {
		s.shards[i].sessions = map[string]*state{}
	}
	return s
}

// WithOwner runs fn while holding an exclusive lock for the owner key. A
// multi-step sequence (read history, call downstream, append the reply)
// stays atomic with respect to other requests from the same owner; turns
// from two concurrent messages cannot interleave. Other owners proceed
// unaffected. fn must not call WithOwner again for the same owner.
func (s *Store) WithOwner(owner string, fn func() error) error {
	g := s.acquireGate(owner)
	g.mu.Lock()
	defer func() {
		g.mu.Unlock()
		s.releaseGate(owner, g)
	}()
	return fn()
}

func (s *Store) acquireGate(owner string) *ownerGate {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	g, ok := s.gates[owner]
	if !ok {
		g = &ownerGate{}
		s.gates[owner] = g
	}
	g.refs++
	return g
}

func (s *Store) releaseGate(owner string, g *ownerGate) {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	if g.refs--; g.refs == 0 {
		delete(s.gates, owner)
	}
}

func (s *Store) shardOf(owner string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(owner))
	return &s.shards[h.Sum32()%shardCount]
}

// GetOrCreate returns the owner's session history, creating a fresh session
// seeded with the system prompt when none exists or the previous one idled
// out. The second result reports whether a new session was started.
func (s *Store) GetOrCreate(owner, systemPrompt string) ([]Turn, bool) {
	sh := s.shardOf(owner)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.sessions[owner]
	if ok && now.Sub(st.lastActive) > s.cfg.IdleTimeout {
		delete(sh.sessions, owner)
		ok = false
		s.log.Debug("session expired", logx.String("owner", owner))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.EventSessionEnded, Data: owner})
		}
	}
	if !ok {
		st = &state{
			turns:      []Turn{{Role: RoleSystem, Text: systemPrompt}},
			lastActive: now,
		}
		sh.sessions[owner] = st
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.EventSessionStarted, Data: owner})
		}
		return cloneTurns(st.turns), true
	}

	st.lastActive = now
	return cloneTurns(st.turns), false
}

// AppendUserTurn records a user turn, prunes history, and returns the turns
// to send downstream.
func (s *Store) AppendUserTurn(owner, text string) ([]Turn, error) {
	return s.append(owner, Turn{Role: RoleUser, Text: text})
}

// AppendAssistantTurn records the downstream reply.
func (s *Store) AppendAssistantTurn(owner, text string) ([]Turn, error) {
	return s.append(owner, Turn{Role: RoleAssistant, Text: text})
}

func (s *Store) append(owner string, turn Turn) ([]Turn, error) {
	sh := s.shardOf(owner)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.sessions[owner]
	if !ok {
		return nil, ErrNoSession
	}
	st.turns = append(st.turns, turn)
	st.turns = prune(st.turns, s.cfg.MaxTurns)
	st.lastActive = s.now()
	return cloneTurns(st.turns), nil
}

// RollbackLastUserTurn removes the most recent turn if it is a user turn.
// Used when the downstream exchange fails, so a retry doesn't see a dangling
// question.
func (s *Store) RollbackLastUserTurn(owner string) {
	sh := s.shardOf(owner)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.sessions[owner]
	if !ok || len(st.turns) == 0 {
		return
	}
	if last := st.turns[len(st.turns)-1]; last.Role == RoleUser {
		st.turns = st.turns[:len(st.turns)-1]
	}
}

// End removes the owner's session. Returns ErrNoSession when none exists
// (an idled-out session counts as gone).
func (s *Store) End(owner string) error {
	sh := s.shardOf(owner)
	now := s.now()

	sh.mu.Lock()
	st, ok := sh.sessions[owner]
	if ok {
		delete(sh.sessions, owner)
	}
	sh.mu.Unlock()

	if !ok {
		return ErrNoSession
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventSessionEnded, Data: owner})
	}
	if now.Sub(st.lastActive) > s.cfg.IdleTimeout {
		// It had already idled out; report as absent.
		return ErrNoSession
	}
	s.log.Debug("session ended", logx.String("owner", owner))
	return nil
}

// Count returns the number of live (non-expired) sessions.
func (s *Store) Count() int {
	now := s.now()
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, st := range sh.sessions {
			if now.Sub(st.lastActive) <= s.cfg.IdleTimeout {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Sweep evicts expired sessions eagerly. Intended to be run periodically by
// the app when sessions.sweep_interval is set; eviction stays correct
// without it because every access checks idleness first.
func (s *Store) Sweep(ctx context.Context) int {
	now := s.now()
	evicted := 0
	for i := range s.shards {
		if ctx.Err() != nil {
			return evicted
		}
		sh := &s.shards[i]
		sh.mu.Lock()
		for owner, st := range sh.sessions {
			if now.Sub(st.lastActive) > s.cfg.IdleTimeout {
				delete(sh.sessions, owner)
				evicted++
				if s.bus != nil {
					s.bus.Publish(eventbus.Event{Type: eventbus.EventSessionEnded, Data: owner})
				}
			}
		}
		sh.mu.Unlock()
	}
	if evicted > 0 {
		s.log.Debug("session sweep", logx.Int("evicted", evicted))
	}
	return evicted
}

// prune bounds history to maxTurns, always keeping the first (system) turn
// and dropping the oldest conversational turns.
func prune(turns []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 || len(turns) <= maxTurns {
		return turns
	}
	keep := maxTurns - 1
	pruned := make([]Turn, 0, maxTurns)
	pruned = append(pruned, turns[0])
	pruned = append(pruned, turns[len(turns)-keep:]...)
	return pruned
}

func cloneTurns(in []Turn) []Turn {
	out := make([]Turn, len(in))
	copy(out, in)
	return out
}
