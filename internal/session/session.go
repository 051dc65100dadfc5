package session

import (
	"slices"
	"sync"
	"time"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/energy"
)

// State is the conversation state of a session.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
)

func (s State) String() string {
	if s == StateAwaitingResponse {
		return "awaiting_response"
	}
	return "idle"
}

// Session owns one conversation: its turns and its energy records.
// len(records) always equals the number of assistant turns.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	state   State
	turns   []domain.Turn
	records []energy.Record
}

// New creates an idle, empty session.
func New(id string) *Session {
	return &Session{ID: id, CreatedAt: time.Now()}
}

// Begin moves the session from idle to awaiting a response.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return domain.ErrSessionBusy
	}
	s.state = StateAwaitingResponse
	return nil
}

// Abort returns to idle without touching the transcript.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
}

// AppendUser appends the user turn of the in-flight exchange.
func (s *Session) AppendUser(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, domain.Turn{Role: domain.RoleUser, Text: text})
}

// Complete appends the assistant turn together with its energy record and
// returns to idle. record receives the 0-based assistant turn index.
func (s *Session) Complete(turn domain.Turn, record func(turnIndex int) energy.Record) energy.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := record(len(s.records))
	s.turns = append(s.turns, turn)
	s.records = append(s.records, rec)
	s.state = StateIdle
	return rec
}

// Reset clears turns and energy records together. A session with a request
// in flight cannot be reset.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return domain.ErrSessionBusy
	}
	s.turns = nil
	s.records = nil
	return nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Turns returns a copy of the transcript.
func (s *Session) Turns() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.turns)
}

// Records returns a copy of the energy records.
func (s *Session) Records() []energy.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Snapshot returns consistent copies of turns and records.
func (s *Session) Snapshot() ([]domain.Turn, []energy.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.turns), slices.Clone(s.records)
}
