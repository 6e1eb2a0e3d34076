package state

import (
	"time"

	"github.com/mg7d/adaptivefps/internal/util"
)

// AuditEvent records one step in the life of a cap write (queued, sent, success, failure, dropped).
type AuditEvent struct {
	ActionID   string    `json:"action_id"`
	ActionType string    `json:"action_type"`
	Value      uint      `json:"value"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// AuditRing keeps the most recent audit events.
type AuditRing struct {
	ring *util.Ring[AuditEvent]
}

// NewAuditRing creates an audit ring holding at most size events.
func NewAuditRing(size int) *AuditRing {
	return &AuditRing{ring: util.NewRing[AuditEvent](size)}
}

// Append records ev.
func (a *AuditRing) Append(ev AuditEvent) {
	a.ring.Append(ev)
}

// Events returns the buffered events, oldest first.
func (a *AuditRing) Events() []AuditEvent {
	return a.ring.Items()
}

// Len returns the number of buffered events.
func (a *AuditRing) Len() int {
	return a.ring.Len()
}
