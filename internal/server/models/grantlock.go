package models

import "time"

// GrantLock marks the (accessor, capsule) pair as holding a live burst key.
// At most one exists per pair; an expired lock may be taken over.
type GrantLock struct {
	AccessorID string
	CapsuleID  string
	BurstID    string
	ExpiresAt  time.Time
}
