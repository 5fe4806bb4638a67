package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
//
// UserID is the acting user; uuid.Nil means the system itself acted (for
// example an automated scoring decision).
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	UserID    uuid.UUID
	Action    string
	Detail    string
	RequestID string
}

// Action names the portal emits. Free text is allowed in Detail; Action stays
// a closed vocabulary so downstream consumers can route on it.
const (
	ActionUserCreated   = "user created"
	ActionLoanSubmitted = "loan submitted"
	ActionLoanDecided   = "loan auto-decided"
	ActionLoanOverride  = "loan decision overridden"
	ActionLoanWithdrawn = "loan withdrawn"
	ActionLoanReopened  = "loan reopened for rescoring"
	ActionEditRequested = "edit requested"
	ActionEditResolved  = "edit request resolved"
)

// System reports whether the event was produced without an acting user.
func (e Event) System() bool {
	return e.UserID == uuid.Nil
}
