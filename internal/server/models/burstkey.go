package models

import "time"

// BurstKeyStatus is derived from timestamps, never stored.
type BurstKeyStatus string

const (
	BurstKeyActive   BurstKeyStatus = "active"
	BurstKeyConsumed BurstKeyStatus = "consumed"
	BurstKeyExpired  BurstKeyStatus = "expired"
)

// BurstKey is a single-use, time-limited capability token. Only the digest of
// the bearer secret is persisted.
type BurstKey struct {
	ID             string
	SecretHash     string
	CapsuleID      string
	AccessorID     string
	AccessorPubKey string
	Context        map[string]any
	IssuedAt       time.Time
	ExpiresAt      time.Time
	ConsumedAt     *time.Time
}

// StatusAt derives the effective status at now. Consumption wins over expiry;
// the live window is [IssuedAt, ExpiresAt).
func (k *BurstKey) StatusAt(now time.Time) BurstKeyStatus {
	if k.ConsumedAt != nil {
		return BurstKeyConsumed
	}
	if !now.Before(k.ExpiresAt) {
		return BurstKeyExpired
	}
	return BurstKeyActive
}

// IsLiveAt is StatusAt(now) == BurstKeyActive.
func (k *BurstKey) IsLiveAt(now time.Time) bool {
	return k.StatusAt(now) == BurstKeyActive
}

// IssuedBurstKey is handed back exactly once, when the key is created.
type IssuedBurstKey struct {
	BurstID   string    `json:"burstId"`
	BurstKey  string    `json:"burstKey"`
	CapsuleID string    `json:"capsuleId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ConsumedBurstKey is the result of a successful verify-and-consume.
type ConsumedBurstKey struct {
	BurstID    string         `json:"burstId"`
	CapsuleID  string         `json:"capsuleId"`
	AccessorID string         `json:"accessorId"`
	Context    map[string]any `json:"context,omitempty"`
	ConsumedAt time.Time      `json:"consumedAt"`
}
