// Package flow defines state management interfaces for the onboarding conversation.
package flow

import (
	"github.com/BTreeMap/VitalAI/internal/models"
)

// StateManager owns the per-user conversation records.
//
// Acquire serializes access per user: it returns a Turn holding that user's
// record exclusively until Release is called. Messages from different users
// never wait on each other beyond the brief table lookup.
type StateManager interface {
	// Acquire looks up the record for userID, creating it in the initial state
	// when the user has never been seen. created reports whether it was created.
	Acquire(userID string) (turn *Turn, created bool)

	// Get returns a copy of the last committed record for userID.
	Get(userID string) (models.UserRecord, bool)

	// Snapshot returns copies of all committed records.
	Snapshot() []models.UserRecord
}
