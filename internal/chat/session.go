// Package chat answers diary questions within conversation sessions.
//
// A Session owns a memory window and serializes its own questions; the
// Registry keeps recently used sessions and forgets idle ones.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/diario/internal/memory"
	"github.com/felixgeelhaar/diario/internal/observe"
	"github.com/felixgeelhaar/diario/internal/retriever"
	"github.com/felixgeelhaar/diario/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// Retriever finds passages for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]retriever.Passage, error)
}

// Generator produces an answer from passages and a transcript.
type Generator interface {
	Generate(ctx context.Context, question string, passages []retriever.Passage, transcript string) (string, error)
}

// TurnStore persists conversation turns so sessions survive restarts.
type TurnStore interface {
	AppendTurn(ctx context.Context, t store.Turn) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]store.Turn, error)
	DeleteTurns(ctx context.Context, sessionID string) error
}

// Answer is the reply to one question.
type Answer struct {
	Text    string
	Sources []retriever.Passage
}

type engine struct {
	retriever Retriever
	generator Generator
	turns     TurnStore
	k         int
	obs       *observe.Observer
}

type Session struct {
	ID        string
	CreatedAt time.Time

	// askMu serializes Ask; memory has its own lock for data access.
	askMu  sync.Mutex
	memory *memory.Window
	eng    *engine

	usedMu   sync.Mutex
	lastUsed time.Time

	pins int // asks in flight through Service, guarded by Registry.mu
}

func newSession(id string, capacity int, eng *engine) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		memory:    memory.NewWindow(capacity),
		eng:       eng,
		lastUsed:  now,
	}
}

// Memory exposes the session's conversation window.
func (s *Session) Memory() *memory.Window {
	return s.memory
}

func (s *Session) LastUsed() time.Time {
	s.usedMu.Lock()
	defer s.usedMu.Unlock()
	return s.lastUsed
}

func (s *Session) touch() {
	s.usedMu.Lock()
	s.lastUsed = time.Now()
	s.usedMu.Unlock()
}

// Ask retrieves passages for question, generates an answer with the
// session transcript and records the turn. Concurrent calls on one session
// run one after another. Nothing is recorded when any step fails.
func (s *Session) Ask(ctx context.Context, question string) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, retriever.ErrEmptyQuestion
	}

	s.askMu.Lock()
	defer s.askMu.Unlock()
	s.touch()

	ctx, span := s.eng.obs.StartSpan(ctx, "chat.Ask")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", s.ID))

	passages, err := s.eng.retriever.Retrieve(ctx, question, s.eng.k)
	if err != nil {
		span.RecordError(err)
		return Answer{}, fmt.Errorf("failed to retrieve passages: %w", err)
	}

	text, err := s.eng.generator.Generate(ctx, question, passages, s.memory.Render())
	if err != nil {
		span.RecordError(err)
		return Answer{}, err
	}

	turn := s.memory.Append(question, text)
	if s.eng.turns != nil {
		err := s.eng.turns.AppendTurn(ctx, store.Turn{
			SessionID: s.ID,
			Seq:       turn.Seq,
			Question:  turn.Question,
			Answer:    turn.Answer,
			CreatedAt: turn.At,
		})
		if err != nil {
			s.eng.obs.Log().Warn().Str("session", s.ID).Err(err).Msg("failed to persist turn")
		}
	}

	s.eng.obs.Log().Info().Str("session", s.ID).Int("turn", turn.Seq).Int("sources", len(passages)).Msg("answered question")
	return Answer{Text: text, Sources: passages}, nil
}
