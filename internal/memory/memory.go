// Package memory keeps the recent turns of a conversation so they can be
// replayed into the next prompt.
package memory

import (
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of turns kept when none is configured.
const DefaultCapacity = 6

// Turn is one question and the answer given to it. Seq is the ordinal of
// the turn within its session, starting at 1.
type Turn struct {
	Seq      int
	Question string
	Answer   string
	At       time.Time
}

// Window is a FIFO of the last Capacity turns. It is safe for concurrent
// use; the lock is only held while the slice is touched.
type Window struct {
	mu       sync.Mutex
	capacity int
	turns    []Turn
	seq      int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		turns:    make([]Turn, 0, capacity),
	}
}

func (w *Window) Capacity() int {
	return w.capacity
}

// Append adds a turn, evicting the oldest one once capacity is exceeded.
// It returns the turn as stored, with its sequence number.
func (w *Window) Append(question, answer string) Turn {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	t := Turn{Seq: w.seq, Question: question, Answer: answer, At: time.Now()}
	w.turns = append(w.turns, t)
	if over := len(w.turns) - w.capacity; over > 0 {
		w.turns = append(w.turns[:0], w.turns[over:]...)
	}
	return t
}

// Restore seeds the window with previously persisted turns, oldest first.
// Only the newest Capacity turns are kept.
func (w *Window) Restore(turns []Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(turns) > w.capacity {
		turns = turns[len(turns)-w.capacity:]
	}
	w.turns = append(w.turns[:0], turns...)
	for _, t := range turns {
		if t.Seq > w.seq {
			w.seq = t.Seq
		}
	}
}

// Turns returns a copy of the window, oldest first.
func (w *Window) Turns() []Turn {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.turns)
}

// Render formats the window as a transcript, oldest turn first. An empty
// window renders as "".
func (w *Window) Render() string {
	turns := w.Turns()

	var b strings.Builder
	for _, t := range turns {
		b.WriteString("User: ")
		b.WriteString(oneLine(t.Question))
		b.WriteString("\nAssistant: ")
		b.WriteString(oneLine(t.Answer))
		b.WriteString("\n")
	}
	return b.String()
}

// oneLine keeps multi-line answers from breaking the transcript layout.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
