package access

import (
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

// State is the lifecycle position of a membership row.
type State string

const (
	StateNone    State = "none"
	StatePending State = "pending"
	StateActive  State = "active"
	StateDeleted State = "deleted"
)

// StateOf derives the state of m. A nil row is StateNone.
func StateOf(m *model.ChatRoomMember) State {
	switch {
	case m == nil:
		return StateNone
	case m.IsDeleted:
		return StateDeleted
	case m.IsPending:
		return StatePending
	default:
		return StateActive
	}
}

// IsActive reports whether m is an accepted, non-deleted membership.
func IsActive(m *model.ChatRoomMember) bool {
	return StateOf(m) == StateActive
}

// TransitionError reports an operation that is not valid from the row's current state.
type TransitionError struct {
	From State
	Op   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a membership that is %s", e.Op, e.From)
}

// NewMember builds a fresh membership row. pending is true for invitations;
// self-joins and room creators start active.
func NewMember(roomID uuid.UUID, userID string, role model.MemberRole, pending bool, invitedBy *string, now time.Time) model.ChatRoomMember {
	return model.ChatRoomMember{
		ID:          uuid.New(),
		ChatRoomID:  roomID,
		UserID:      userID,
		Role:        role,
		IsPending:   pending,
		JoinedAt:    now,
		InvitedByID: invitedBy,
	}
}

// Accept moves a pending invitation to active.
func Accept(m *model.ChatRoomMember, now time.Time) error {
	if s := StateOf(m); s != StatePending {
		return &TransitionError{From: s, Op: "accept"}
	}
	m.IsPending = false
	m.JoinedAt = now
	return nil
}

// Leave soft-deletes an active membership. The row is kept so uniqueness and
// the history boundary survive a later rejoin. Leaving twice is a no-op.
func Leave(m *model.ChatRoomMember) error {
	switch s := StateOf(m); s {
	case StateActive:
		m.IsDeleted = true
		m.IsPinned = false
		m.PinnedAt = nil
		return nil
	case StateDeleted:
		return nil
	default:
		return &TransitionError{From: s, Op: "leave"}
	}
}

// CanReject reports whether m is an invitation that may be discarded outright.
// Rejected invitations are removed, not soft-deleted.
func CanReject(m *model.ChatRoomMember) error {
	if s := StateOf(m); s != StatePending {
		return &TransitionError{From: s, Op: "reject"}
	}
	return nil
}

// Reactivate resurrects a deleted membership. The member only sees activity after
// boundary, and the role drops back to Member. pending marks a re-invitation that
// still needs accepting. It returns false, leaving m untouched, when m is not deleted.
func Reactivate(m *model.ChatRoomMember, now, boundary time.Time, pending bool, invitedBy *string) bool {
	if StateOf(m) != StateDeleted {
		return false
	}
	b := boundary
	m.IsDeleted = false
	m.IsPending = pending
	m.ClearedHistoryAt = &b
	m.JoinedAt = now
	m.Role = model.RoleMember
	m.InvitedByID = invitedBy
	return true
}

// VisibleAfter returns the member's lower visibility bound, or nil when all history is visible.
func VisibleAfter(m *model.ChatRoomMember) *time.Time {
	if m == nil {
		return nil
	}
	return m.ClearedHistoryAt
}
