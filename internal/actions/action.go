package actions

import (
	"time"

	"github.com/google/uuid"
)

// Action is one host write queued for the applier.
type Action interface {
	ID() string
	Timestamp() time.Time
	Reason() string
	Type() string
	Value() uint
}

// Base holds common action fields.
type Base struct {
	ActionID   string
	ActionTime time.Time
	ReasonText string
	ActionType string
	CapValue   uint
}

func (b Base) ID() string           { return b.ActionID }
func (b Base) Timestamp() time.Time { return b.ActionTime }
func (b Base) Reason() string       { return b.ReasonText }
func (b Base) Type() string         { return b.ActionType }
func (b Base) Value() uint          { return b.CapValue }

// SetCap writes a new frame-rate cap value.
type SetCap struct {
	Base
}

// RestoreCap writes back the user's own cap value.
type RestoreCap struct {
	Base
}

// NewSetCap creates a SetCap action stamped at now.
func NewSetCap(now time.Time, reason string, value uint) *SetCap {
	return &SetCap{Base: newBase(now, "SetCap", reason, value)}
}

// NewRestoreCap creates a RestoreCap action stamped at now.
func NewRestoreCap(now time.Time, reason string, value uint) *RestoreCap {
	return &RestoreCap{Base: newBase(now, "RestoreCap", reason, value)}
}

func newBase(now time.Time, typ, reason string, value uint) Base {
	return Base{
		ActionID:   uuid.NewString(),
		ActionTime: now,
		ReasonText: reason,
		ActionType: typ,
		CapValue:   value,
	}
}
