package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/diario/internal/fault"
	"github.com/felixgeelhaar/diario/internal/memory"
	"github.com/felixgeelhaar/diario/internal/observe"
	"github.com/felixgeelhaar/diario/internal/retriever"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultMaxSessions = 256
	DefaultIdleTTL     = 2 * time.Hour

	maxSessionIDLen = 128
)

// ErrInvalidSession is returned for empty or oversized session ids.
var ErrInvalidSession = fault.Define(fault.ErrInput, "invalid session id")

// Options configures a Registry.
type Options struct {
	MaxSessions    int           // sessions kept before the least recently used is dropped
	IdleTTL        time.Duration // sessions unused for this long are dropped
	MemoryCapacity int           // turns kept per session
	K              int           // passages retrieved per question, 0 for the retriever default
}

func DefaultOptions() Options {
	return Options{
		MaxSessions:    DefaultMaxSessions,
		IdleTTL:        DefaultIdleTTL,
		MemoryCapacity: memory.DefaultCapacity,
	}
}

// Registry maps session ids to live sessions. Sessions are created on
// first use and forgotten after IdleTTL or when MaxSessions is exceeded.
// Persisted turns, when a TurnStore is configured, outlive the session and
// seed it again on the next use. A session answering a question is pinned:
// it may leave the LRU but Get keeps returning it until the answer is in.
type Registry struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]
	pinned   map[string]*Session // guarded by mu
	eng      *engine
	opts     Options
}

func NewRegistry(r Retriever, g Generator, turns TurnStore, opts Options, obs *observe.Observer) *Registry {
	def := DefaultOptions()
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = def.MaxSessions
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = def.IdleTTL
	}
	if opts.MemoryCapacity <= 0 {
		opts.MemoryCapacity = def.MemoryCapacity
	}
	obs = observe.OrNop(obs)

	onEvict := func(id string, _ *Session) {
		obs.Log().Debug().Str("session", id).Msg("session evicted")
	}
	return &Registry{
		sessions: expirable.NewLRU[string, *Session](opts.MaxSessions, onEvict, opts.IdleTTL),
		pinned:   make(map[string]*Session),
		eng:      &engine{retriever: r, generator: g, turns: turns, k: opts.K, obs: obs},
		opts:     opts,
	}
}

// Get returns the session for id, creating it when it is unknown or has
// expired. Each call restarts the session's idle timer.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	if err := validID(id); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(ctx, id)
}

func (r *Registry) getLocked(ctx context.Context, id string) (*Session, error) {
	if s, ok := r.pinned[id]; ok {
		r.sessions.Add(id, s)
		return s, nil
	}
	if s, ok := r.sessions.Get(id); ok {
		r.sessions.Add(id, s)
		return s, nil
	}

	s := newSession(id, r.opts.MemoryCapacity, r.eng)
	if r.eng.turns != nil {
		persisted, err := r.eng.turns.RecentTurns(ctx, id, r.opts.MemoryCapacity)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", id, err)
		}
		turns := make([]memory.Turn, len(persisted))
		for i, t := range persisted {
			turns[i] = memory.Turn{Seq: t.Seq, Question: t.Question, Answer: t.Answer, At: t.CreatedAt}
		}
		s.memory.Restore(turns)
	}
	r.sessions.Add(id, s)
	r.eng.obs.Log().Info().Str("session", id).Int("restored_turns", s.memory.Len()).Msg("session started")
	return s, nil
}

// Drop forgets a session and its persisted turns.
func (r *Registry) Drop(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	r.mu.Lock()
	r.sessions.Remove(id)
	delete(r.pinned, id)
	r.mu.Unlock()

	if r.eng.turns != nil {
		if err := r.eng.turns.DeleteTurns(ctx, id); err != nil {
			return fmt.Errorf("failed to drop session %s: %w", id, err)
		}
	}
	return nil
}

// acquire is Get plus a pin that holds until release.
func (r *Registry) acquire(ctx context.Context, id string) (*Session, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	s.pins++
	r.pinned[id] = s
	return s, nil
}

func (r *Registry) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.pins--
	if s.pins == 0 && r.pinned[s.ID] == s {
		delete(r.pinned, s.ID)
	}
}

// Len reports the number of sessions in the LRU.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

func validID(id string) error {
	if strings.TrimSpace(id) == "" || len(id) > maxSessionIDLen {
		return ErrInvalidSession
	}
	return nil
}

// Service answers questions addressed to sessions by id.
type Service struct {
	sessions *Registry
}

func NewService(sessions *Registry) *Service {
	return &Service{sessions: sessions}
}

func (s *Service) Sessions() *Registry {
	return s.sessions
}

// Ask routes question to the session id, creating it if needed. A blank
// question is rejected before any session is looked up.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, retriever.ErrEmptyQuestion
	}
	sess, err := s.sessions.acquire(ctx, sessionID)
	if err != nil {
		return Answer{}, err
	}
	defer s.sessions.release(sess)
	return sess.Ask(ctx, question)
}

// Drop forgets the session id and its history.
func (s *Service) Drop(ctx context.Context, sessionID string) error {
	return s.sessions.Drop(ctx, sessionID)
}
