package session

import (
	"context"
	"time"

	"github.com/room4-2/OpenBooking/slots"
)

// DefaultTTL is the sliding inactivity window applied to every write.
const DefaultTTL = time.Hour

const keyPrefix = "session:"

// State is the per-conversation value owned by the store.
type State struct {
	Slots     slots.Slots `json:"slots"`
	Turns     int         `json:"turns"`
	UpdatedAt time.Time   `json:"updated_at,omitempty"`
}

// Empty reports whether the state carries no slots and no turn history.
func (s State) Empty() bool {
	return len(s.Slots.Names()) == 0 && s.Turns == 0
}

func (s State) clone() State {
	if s.Slots == nil {
		s.Slots = slots.Slots{}
		return s
	}
	s.Slots = s.Slots.Clone()
	return s
}

// Store keeps conversation state keyed by conversation identifier.
//
// Every write resets the time-to-live of the key. Writes to the same key are
// last-writer-wins; no compare-and-swap is offered.
type Store interface {
	// Get never fails: absent, expired or unreadable state yields an empty
	// State.
	Get(ctx context.Context, conversationID string) State
	// Update merges updates into the stored slots, advances the turn counter
	// and persists the result with a fresh TTL.
	Update(ctx context.Context, conversationID string, updates slots.Slots) (State, error)
	// Clear removes the conversation. Clearing a missing key is not an error.
	Clear(ctx context.Context, conversationID string) error
	// Backend names the active implementation ("redis" or "memory").
	Backend() string
	Close() error
}

func applyUpdates(current State, updates slots.Slots, now time.Time) State {
	merged, _ := slots.Merge(current.Slots, updates.Candidates())
	return State{
		Slots:     merged,
		Turns:     current.Turns + 1,
		UpdatedAt: now,
	}
}

func emptyState() State {
	return State{Slots: slots.Slots{}}
}
