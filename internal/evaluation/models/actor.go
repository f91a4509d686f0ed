package models

import (
	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"
)

// Actor is the authenticated identity every operation is evaluated against.
// It is passed explicitly; services never read identity from ambient state.
type Actor struct {
	UserID     id.UserID
	Privileged bool
}

// Validate rejects an actor without a user.
func (a Actor) Validate() error {
	if a.UserID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return nil
}

// Owns reports whether owner is the actor.
func (a Actor) Owns(owner id.UserID) bool {
	return owner == a.UserID
}
