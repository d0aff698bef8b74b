package domain

import "github.com/google/uuid"

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// CanAccess reports whether the principal may read or delete the task.
// Only the owner or an admin has access.
func (p Principal) CanAccess(t *Task) bool {
	if t == nil {
		return false
	}
	return p.IsAdmin || t.IsOwnedBy(p.UserID)
}

// Validate checks that the principal identifies a user.
func (p Principal) Validate() error {
	if p.UserID == uuid.Nil {
		return ErrUnauthorized
	}
	return nil
}
