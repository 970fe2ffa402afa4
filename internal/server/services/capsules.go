package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/dmitrijs2005/capsulekeeper/internal/cryptox"
	"github.com/dmitrijs2005/capsulekeeper/internal/dbx"
	"github.com/dmitrijs2005/capsulekeeper/internal/logging"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/archive"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/outbound"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/repomanager"
)

// CreateCapsuleInput is what an owner supplies to create a capsule.
type CreateCapsuleInput struct {
	OwnerID     string
	Content     map[string]any
	CapsuleType string
	Metadata    models.CapsuleMetadata
	PublicKey   string
}

// CapsuleService is the capsule store: it seals content on the way in and is
// the only place that decrypts it on the way out.
type CapsuleService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	sealer      Sealer
	mirror      EventMirror
	archive     Archiver
	queue       outbound.Enqueuer
	logger      logging.Logger
	now         func() time.Time
}

func NewCapsuleService(db *sql.DB, m repomanager.RepositoryManager, sealer Sealer, mirror EventMirror,
	arch Archiver, queue outbound.Enqueuer, logger logging.Logger) *CapsuleService {
	if mirror == nil {
		mirror = nopMirror{}
	}
	return &CapsuleService{
		db:          db,
		repomanager: m,
		sealer:      sealer,
		mirror:      mirror,
		archive:     arch,
		queue:       queue,
		logger:      logger,
		now:         time.Now,
	}
}

// Create seals the canonical encoding of in.Content and stores it as an
// active capsule. The content hash is a keyed digest of the canonical
// plaintext, so it does not depend on field order or on the encryption nonce.
func (s *CapsuleService) Create(ctx context.Context, in CreateCapsuleInput) (*models.CapsuleSummary, error) {
	if in.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", common.ErrorInvalidInput)
	}
	if in.Content == nil {
		return nil, fmt.Errorf("%w: content is required", common.ErrorInvalidInput)
	}

	plain, err := cryptox.CanonicalJSON(in.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: content is not serializable: %v", common.ErrorInvalidInput, err)
	}
	defer common.WipeByteArray(plain)

	sealed, err := s.sealer.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("error encrypting content: %w", err)
	}

	c := &models.Capsule{
		ID:               newID(),
		OwnerID:          in.OwnerID,
		EncryptedContent: sealed,
		ContentHash:      s.sealer.Digest(plain),
		CapsuleType:      in.CapsuleType,
		Metadata:         in.Metadata,
		OwnerPublicKey:   in.PublicKey,
		Status:           models.CapsuleActive,
		CreatedAt:        s.now().UTC(),
	}

	if err := s.repomanager.Capsules(s.db).Create(ctx, c); err != nil {
		return nil, storeErr(err)
	}

	s.logger.Info(ctx, "capsule created", "capsule_id", c.ID, "owner_id", c.OwnerID)

	s.mirror.CapsuleCreated(c)
	s.enqueueArchive(c)

	return c.Summary(), nil
}

func (s *CapsuleService) enqueueArchive(c *models.Capsule) {
	if s.archive == nil || !s.archive.Enabled() || s.queue == nil {
		return
	}
	key := archive.ObjectKey(c.OwnerID, c.ID)
	body := c.EncryptedContent
	s.queue.Enqueue(outbound.Task{
		Name: "archive.put",
		Run: func(ctx context.Context) error {
			return s.archive.Put(ctx, key, body)
		},
	})
}

// Get returns the capsule record, revoked or not.
func (s *CapsuleService) Get(ctx context.Context, id string) (*models.Capsule, error) {
	c, err := s.repomanager.Capsules(s.db).Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return c, nil
}

// GetOwned is Get restricted to the capsule's owner. Someone else's capsule
// is reported as ErrorNotFound so ids cannot be probed.
func (s *CapsuleService) GetOwned(ctx context.Context, id, ownerID string) (*models.Capsule, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	return c, nil
}

// getActive treats a revoked capsule as absent.
func (s *CapsuleService) getActive(ctx context.Context, id string) (*models.Capsule, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive() {
		return nil, common.ErrorNotFound
	}
	return c, nil
}

func (s *CapsuleService) open(c *models.Capsule) (map[string]any, error) {
	plain, err := s.sealer.Decrypt(c.EncryptedContent)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt capsule %s: %v", common.ErrorInternal, c.ID, err)
	}
	defer common.WipeByteArray(plain)

	content, err := cryptox.DecodeContent(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: decode capsule %s: %v", common.ErrorInternal, c.ID, err)
	}
	return content, nil
}

// GetFullContent decrypts the whole capsule. Only the full disclosure path
// calls it, after a burst key has been consumed.
func (s *CapsuleService) GetFullContent(ctx context.Context, id string) (map[string]any, error) {
	c, err := s.getActive(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.open(c)
}

// GetRestrictedView decrypts the capsule and copies out the owner's name and
// emergency contact. Nothing else is reachable from the result.
func (s *CapsuleService) GetRestrictedView(ctx context.Context, id string) (*models.RestrictedView, error) {
	c, err := s.getActive(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := s.open(c)
	if err != nil {
		return nil, err
	}
	return projectRestricted(content), nil
}

// Revoke flips the capsule to revoked. Revoking an already revoked capsule is
// a no-op that returns the stored record.
func (s *CapsuleService) Revoke(ctx context.Context, id, requesterOwnerID string) (*models.Capsule, error) {
	var out *models.Capsule

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Capsules(tx)

		c, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if c.OwnerID != requesterOwnerID {
			return common.ErrorNotFound
		}
		if !c.IsActive() {
			out = c
			return nil
		}

		at := s.now().UTC()
		changed, err := repo.Revoke(ctx, id, at)
		if err != nil {
			return err
		}
		if changed {
			c.Status = models.CapsuleRevoked
			c.RevokedAt = &at
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.logger.Info(ctx, "capsule revoked", "capsule_id", id)
	return out, nil
}

// ExportURL returns a presigned download link for the archived ciphertext.
func (s *CapsuleService) ExportURL(ctx context.Context, id, ownerID string) (string, error) {
	if s.archive == nil || !s.archive.Enabled() {
		return "", common.ErrorNotFound
	}
	c, err := s.GetOwned(ctx, id, ownerID)
	if err != nil {
		return "", err
	}
	url, err := s.archive.PresignGet(ctx, archive.ObjectKey(c.OwnerID, c.ID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return url, nil
}
