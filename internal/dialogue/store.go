// Package dialogue implements the multi-turn outfit-suggestion engine: the
// state store, the reply protocol and the controller state machine.
package dialogue

import (
	"slices"

	"github.com/ashureev/coordi/internal/domain"
)

// Store holds one session's history, slots and candidate outfit. It has a
// single writer, the Controller, and performs no locking of its own.
type Store struct {
	history   []domain.Turn
	slots     domain.SlotMap
	candidate *domain.CandidateOutfit
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{}
	s.Reset()
	return s
}

// AppendTurn appends turn to the history.
func (s *Store) AppendTurn(turn domain.Turn) {
	s.history = append(s.history, turn)
}

// ApplyReply replaces the slot map with the reply's slots, replaces the
// candidate when the reply carries an outfit, and appends the assistant turn.
func (s *Store) ApplyReply(reply Reply) {
	s.slots = reply.Slots().Clone()
	if outfit, ok := reply.Outfit(); ok {
		s.candidate = &outfit
	}
	s.AppendTurn(domain.AssistantTurn(reply.Message()))
}

// Reset clears all state.
func (s *Store) Reset() {
	s.history = nil
	s.slots = domain.SlotMap{}
	s.candidate = nil
}

// History returns a copy of the turn history.
func (s *Store) History() []domain.Turn {
	return slices.Clone(s.history)
}

// Slots returns a copy of the slot map.
func (s *Store) Slots() domain.SlotMap {
	return s.slots.Clone()
}

// Candidate returns the current candidate outfit.
func (s *Store) Candidate() (domain.CandidateOutfit, bool) {
	if s.candidate == nil {
		return domain.CandidateOutfit{}, false
	}
	return *s.candidate, true
}
