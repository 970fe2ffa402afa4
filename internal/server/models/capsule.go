// Package models defines server-side records persisted in the database and
// the value types the capsule services hand back to callers.
package models

import "time"

// CapsuleStatus is the lifecycle state of a capsule. The only transition is
// active → revoked.
type CapsuleStatus string

const (
	CapsuleActive  CapsuleStatus = "active"
	CapsuleRevoked CapsuleStatus = "revoked"
)

// CapsuleMetadata is free-form, unencrypted description of a capsule.
type CapsuleMetadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Capsule is an owner's encrypted record.
type Capsule struct {
	ID               string
	OwnerID          string
	EncryptedContent []byte
	ContentHash      string
	CapsuleType      string
	Metadata         CapsuleMetadata
	OwnerPublicKey   string
	Status           CapsuleStatus
	LedgerRef        string
	CreatedAt        time.Time
	RevokedAt        *time.Time
}

// IsActive reports whether the capsule can still be disclosed.
func (c *Capsule) IsActive() bool {
	return c.Status == CapsuleActive
}

// Summary drops the ciphertext.
func (c *Capsule) Summary() *CapsuleSummary {
	return &CapsuleSummary{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		ContentHash: c.ContentHash,
		CapsuleType: c.CapsuleType,
		Metadata:    c.Metadata,
		Status:      c.Status,
		LedgerRef:   c.LedgerRef,
		CreatedAt:   c.CreatedAt,
		RevokedAt:   c.RevokedAt,
	}
}

// CapsuleSummary is what callers see of a capsule. It never carries ciphertext.
type CapsuleSummary struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	ContentHash string          `json:"contentHash"`
	CapsuleType string          `json:"capsuleType"`
	Metadata    CapsuleMetadata `json:"metadata"`
	Status      CapsuleStatus   `json:"status"`
	LedgerRef   string          `json:"ledgerRef,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	RevokedAt   *time.Time      `json:"revokedAt,omitempty"`
}
