// Package common defines shared constants and sentinel errors used across
// the capsule and burst key layers. Callers should use errors.Is to match
// these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal       = errors.New("internal error")
	ErrorUnauthorized   = errors.New("unauthorized")
	ErrorInvalidInput   = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")

	// Bearer token errors (JWT or burst key that does not resolve).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Burst key lifecycle errors.
	ErrAlreadyConsumed = errors.New("burst key already consumed")
	ErrDuplicateActive = errors.New("an active burst key already exists for this accessor")
)

// DuplicateActiveError is returned when the duplicate-grant guard refuses to
// issue a second live burst key. BurstID names the key that is still live.
type DuplicateActiveError struct {
	BurstID string
}

func (e DuplicateActiveError) Error() string {
	if e.BurstID == "" {
		return ErrDuplicateActive.Error()
	}
	return fmt.Sprintf("%s (burst %s)", ErrDuplicateActive.Error(), e.BurstID)
}

// Is enables errors.Is matching against ErrDuplicateActive.
func (e DuplicateActiveError) Is(target error) bool {
	if target == ErrDuplicateActive {
		return true
	}
	switch target.(type) {
	case DuplicateActiveError, *DuplicateActiveError:
		return true
	}
	return false
}
