package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/dmitrijs2005/capsulekeeper/internal/logging"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/grantlocks"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/repomanager"
)

// orphanLockAge is how long a lock may name a burst key that was never
// stored before it is treated as stale. Issue stores the key right after
// taking the lock, so a live issuer never gets close to it.
const orphanLockAge = 30 * time.Second

// IssueInput names the accessor a burst key is minted for.
type IssueInput struct {
	CapsuleID      string
	AccessorID     string
	AccessorPubKey string
	Context        map[string]any
}

// BurstKeyService issues and consumes burst keys. It enforces at most one live
// key per (accessor, capsule) pair with a grant lock held for the key's whole
// live window, and at most one consumption per key with a conditional write.
type BurstKeyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	locks       grantlocks.Repository
	sealer      Sealer
	audit       *AuditService
	mirror      EventMirror
	ttl         time.Duration
	logger      logging.Logger
	now         func() time.Time
}

func NewBurstKeyService(db *sql.DB, m repomanager.RepositoryManager, locks grantlocks.Repository, sealer Sealer,
	audit *AuditService, mirror EventMirror, ttl time.Duration, logger logging.Logger) *BurstKeyService {
	if mirror == nil {
		mirror = nopMirror{}
	}
	if ttl <= 0 {
		ttl = common.DefaultBurstKeyTTL
	}
	return &BurstKeyService{
		db:          db,
		repomanager: m,
		locks:       locks,
		sealer:      sealer,
		audit:       audit,
		mirror:      mirror,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
	}
}

// TTL is the fixed live window of every issued key.
func (s *BurstKeyService) TTL() time.Duration {
	return s.ttl
}

// Issue mints a burst key for in.AccessorID on in.CapsuleID. The plaintext
// secret is only ever present in the returned value.
func (s *BurstKeyService) Issue(ctx context.Context, in IssueInput) (*models.IssuedBurstKey, error) {
	if in.CapsuleID == "" || in.AccessorID == "" {
		return nil, fmt.Errorf("%w: capsule id and accessor id are required", common.ErrorInvalidInput)
	}

	c, err := s.repomanager.Capsules(s.db).Get(ctx, in.CapsuleID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !c.IsActive() {
		return nil, common.ErrorNotFound
	}

	keys := s.repomanager.BurstKeys(s.db)
	now := s.now().UTC()

	existing, err := keys.ListForPair(ctx, in.AccessorID, in.CapsuleID)
	if err != nil {
		return nil, storeErr(err)
	}
	for _, k := range existing {
		if k.IsLiveAt(now) {
			return nil, s.blockDuplicate(ctx, in, k.ID)
		}
	}

	secret, err := common.MakeRandHexString(common.BurstKeySecretSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	k := &models.BurstKey{
		ID:             newIDAt(now),
		SecretHash:     s.sealer.DigestString(secret),
		CapsuleID:      in.CapsuleID,
		AccessorID:     in.AccessorID,
		AccessorPubKey: in.AccessorPubKey,
		Context:        in.Context,
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.ttl),
	}
	lock := models.GrantLock{
		AccessorID: k.AccessorID,
		CapsuleID:  k.CapsuleID,
		BurstID:    k.ID,
		ExpiresAt:  k.ExpiresAt,
	}

	acquired, holder, err := s.acquire(ctx, lock, now, existing)
	if err != nil {
		return nil, storeErr(err)
	}
	if !acquired {
		return nil, s.blockDuplicate(ctx, in, holder)
	}

	if err := keys.Create(ctx, k); err != nil {
		s.release(ctx, lock)
		return nil, storeErr(err)
	}

	s.logger.Info(ctx, "burst key issued",
		"burst_id", k.ID, "capsule_id", k.CapsuleID, "accessor_id", k.AccessorID, "expires_at", k.ExpiresAt)

	s.audit.Record(ctx, &models.AuditEntry{
		Kind:       models.AuditAccessGrantedFull,
		CapsuleID:  k.CapsuleID,
		AccessorID: k.AccessorID,
		BurstID:    k.ID,
		Reason:     "burst key issued to verified accessor",
		CreatedAt:  now,
	})
	s.mirror.KeyIssued(k)

	return &models.IssuedBurstKey{
		BurstID:   k.ID,
		BurstKey:  secret,
		CapsuleID: k.CapsuleID,
		IssuedAt:  k.IssuedAt,
		ExpiresAt: k.ExpiresAt,
	}, nil
}

// acquire takes the grant lock. A stale lock (see staleHolder) is cleared and
// acquisition retried once.
func (s *BurstKeyService) acquire(ctx context.Context, lock models.GrantLock, now time.Time,
	existing []*models.BurstKey) (bool, string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		acquired, holder, err := s.locks.Acquire(ctx, lock, now)
		if err != nil || acquired {
			return acquired, holder, err
		}
		if holder == "" {
			// released between our attempts
			continue
		}
		if !staleHolder(holder, existing, now) {
			return false, holder, nil
		}
		s.logger.Warn(ctx, "clearing stale grant lock", "holder_burst_id", holder, "capsule_id", lock.CapsuleID)
		stale := lock
		stale.BurstID = holder
		if err := s.locks.Release(ctx, stale); err != nil {
			return false, "", err
		}
	}
	return false, "", nil
}

// staleHolder reports whether the lock holder can be cleared: its key is known
// and no longer live, or its key was never stored and the lock is older than
// orphanLockAge (a failed create whose release was lost).
func staleHolder(holder string, existing []*models.BurstKey, now time.Time) bool {
	for _, k := range existing {
		if k.ID == holder {
			return !k.IsLiveAt(now)
		}
	}
	minted, ok := idTime(holder)
	if !ok {
		return false
	}
	return now.Sub(minted) > orphanLockAge
}

func (s *BurstKeyService) blockDuplicate(ctx context.Context, in IssueInput, conflicting string) error {
	s.audit.Record(ctx, &models.AuditEntry{
		Kind:               models.AuditDuplicateBlocked,
		CapsuleID:          in.CapsuleID,
		AccessorID:         in.AccessorID,
		ConflictingBurstID: conflicting,
		Reason:             "accessor already holds a live burst key for this capsule",
	})
	return common.DuplicateActiveError{BurstID: conflicting}
}

func (s *BurstKeyService) release(ctx context.Context, lock models.GrantLock) {
	if err := s.locks.Release(context.WithoutCancel(ctx), lock); err != nil {
		s.logger.Warn(ctx, "grant lock release failed", "burst_id", lock.BurstID, "error", err)
	}
}

// VerifyAndConsume checks secret against claimedAccessorID and, if the key is
// live, consumes it. Of any number of concurrent calls for one key at most one
// succeeds; the rest get ErrAlreadyConsumed.
func (s *BurstKeyService) VerifyAndConsume(ctx context.Context, secret, claimedAccessorID string) (*models.ConsumedBurstKey, error) {
	if secret == "" {
		return nil, common.ErrInvalidToken
	}

	keys := s.repomanager.BurstKeys(s.db)

	k, err := keys.GetBySecretHash(ctx, s.sealer.DigestString(secret))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, storeErr(err)
	}

	if subtle.ConstantTimeCompare([]byte(k.AccessorID), []byte(claimedAccessorID)) != 1 {
		s.deny(ctx, k, claimedAccessorID, "claimed accessor does not match burst key")
		return nil, common.ErrorUnauthorized
	}

	now := s.now().UTC()
	switch k.StatusAt(now) {
	case models.BurstKeyConsumed:
		s.deny(ctx, k, claimedAccessorID, "burst key already consumed")
		return nil, common.ErrAlreadyConsumed
	case models.BurstKeyExpired:
		s.deny(ctx, k, claimedAccessorID, "burst key expired")
		return nil, common.ErrTokenExpired
	}

	consumed, err := keys.MarkConsumed(ctx, k.ID, now)
	if err != nil {
		return nil, storeErr(err)
	}
	if !consumed {
		s.deny(ctx, k, claimedAccessorID, "burst key consumed concurrently")
		return nil, common.ErrAlreadyConsumed
	}

	s.release(ctx, models.GrantLock{AccessorID: k.AccessorID, CapsuleID: k.CapsuleID, BurstID: k.ID})

	out := &models.ConsumedBurstKey{
		BurstID:    k.ID,
		CapsuleID:  k.CapsuleID,
		AccessorID: k.AccessorID,
		Context:    k.Context,
		ConsumedAt: now,
	}

	s.logger.Info(ctx, "burst key consumed", "burst_id", k.ID, "capsule_id", k.CapsuleID)

	s.audit.Record(ctx, &models.AuditEntry{
		Kind:       models.AuditAccessConsumed,
		CapsuleID:  k.CapsuleID,
		AccessorID: k.AccessorID,
		BurstID:    k.ID,
		Reason:     "burst key consumed",
		CreatedAt:  now,
	})
	s.mirror.KeyConsumed(out)

	return out, nil
}

func (s *BurstKeyService) deny(ctx context.Context, k *models.BurstKey, claimedAccessorID, reason string) {
	s.audit.Record(ctx, &models.AuditEntry{
		Kind:       models.AuditAccessDenied,
		CapsuleID:  k.CapsuleID,
		AccessorID: claimedAccessorID,
		BurstID:    k.ID,
		Reason:     reason,
	})
}

// LiveKey returns the live key for the pair, or ErrorNotFound.
func (s *BurstKeyService) LiveKey(ctx context.Context, accessorID, capsuleID string) (*models.BurstKey, error) {
	existing, err := s.repomanager.BurstKeys(s.db).ListForPair(ctx, accessorID, capsuleID)
	if err != nil {
		return nil, storeErr(err)
	}
	now := s.now()
	for _, k := range existing {
		if k.IsLiveAt(now) {
			return k, nil
		}
	}
	return nil, common.ErrorNotFound
}
