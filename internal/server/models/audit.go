package models

import "time"

// AuditKind names the decision an audit entry records.
type AuditKind string

const (
	AuditAccessGrantedFull    AuditKind = "access-granted-full"
	AuditAccessConsumed       AuditKind = "access-consumed"
	AuditRestrictedViewIssued AuditKind = "restricted-view-issued"
	AuditDuplicateBlocked     AuditKind = "duplicate-blocked"
	AuditAccessDenied         AuditKind = "access-denied"
)

// AuditEntry is one immutable access decision.
type AuditEntry struct {
	ID                 string    `json:"id"`
	Kind               AuditKind `json:"kind"`
	CapsuleID          string    `json:"capsuleId"`
	AccessorID         string    `json:"accessorId"`
	BurstID            string    `json:"burstId,omitempty"`
	ConflictingBurstID string    `json:"conflictingBurstId,omitempty"`
	Reason             string    `json:"reason"`
	CreatedAt          time.Time `json:"createdAt"`
}
