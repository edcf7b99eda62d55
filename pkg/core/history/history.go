// Package history implements the ordered conversation store for one
// intervention session.
package history

import (
	"sync"

	"github.com/sherpa-ai/sherpa/pkg/core/types"
)

// Store is an append-only, sequence-numbered turn history. The first turn is
// always the session's system instruction, re-inserted on Reset. Snapshot
// returns a copy, so a generation call always sees a consistent history even
// while the pipeline is appending the next turn.
type Store struct {
	mu    sync.Mutex
	turns []types.Turn
	next  int
}

// New creates a store seeded with the given system instruction.
func New(system string) *Store {
	s := &Store{}
	s.Reset(system)
	return s
}

// Append finalizes a turn and returns it with its assigned sequence number.
func (s *Store) Append(speaker types.Speaker, text string) types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(speaker, text)
}

func (s *Store) appendLocked(speaker types.Speaker, text string) types.Turn {
	turn := types.Turn{
		Speaker:  speaker,
		Text:     text,
		Sequence: s.next,
	}
	s.next++
	s.turns = append(s.turns, turn)
	return turn
}

// Snapshot returns an immutable copy of the history in append order.
func (s *Store) Snapshot() []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns including the system instruction.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Reset discards the history and re-seeds it with the system instruction.
// Called by the supervisor exactly once per session start, never mid-session.
func (s *Store) Reset(system string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = s.turns[:0]
	s.next = 1
	s.appendLocked(types.SpeakerSystem, system)
}
