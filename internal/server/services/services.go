// Package services holds the access-control core: the capsule store, the
// burst key issuer and verifier, the access policy decision and the audit
// trail. Services own a *sql.DB and obtain repositories from a
// repomanager.RepositoryManager so they can run inside transactions.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
	"github.com/google/uuid"
)

// Sealer is the reversible content transform plus the keyed digest used for
// content hashes and burst key lookups. *cryptox.Keyring implements it.
type Sealer interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	Digest(data []byte) string
	DigestString(s string) string
}

// EventMirror receives facts worth mirroring to the external ledger. Calls
// must not block.
type EventMirror interface {
	CapsuleCreated(c *models.Capsule)
	KeyIssued(k *models.BurstKey)
	KeyConsumed(k *models.ConsumedBurstKey)
}

// Archiver stores capsule ciphertext outside the database.
type Archiver interface {
	Enabled() bool
	Put(ctx context.Context, key string, body []byte) error
	PresignGet(ctx context.Context, key string) (string, error)
}

type nopMirror struct{}

func (nopMirror) CapsuleCreated(*models.Capsule)       {}
func (nopMirror) KeyIssued(*models.BurstKey)           {}
func (nopMirror) KeyConsumed(*models.ConsumedBurstKey) {}

// newID returns a time-ordered UUID.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// newIDAt returns a UUIDv7 whose embedded timestamp is t instead of the wall
// clock, so ids agree with the service clock.
func newIDAt(t time.Time) string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	ms := uint64(t.UnixMilli())
	for i := 0; i < 6; i++ {
		id[i] = byte(ms >> (40 - 8*i))
	}
	return id.String()
}

// idTime reads the creation time back out of a UUIDv7.
func idTime(s string) (time.Time, bool) {
	id, err := uuid.Parse(s)
	if err != nil || id.Version() != 7 {
		return time.Time{}, false
	}
	var ms int64
	for i := 0; i < 6; i++ {
		ms = ms<<8 | int64(id[i])
	}
	return time.UnixMilli(ms).UTC(), true
}

// storeErr keeps ErrorNotFound and turns anything else coming out of a
// repository into ErrStoreUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrorNotFound
	}
	return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
}
