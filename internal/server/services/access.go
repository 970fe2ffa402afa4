package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/dmitrijs2005/capsulekeeper/internal/logging"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
)

// AccessLevel is the disclosure tier a request was routed to.
type AccessLevel string

const (
	AccessFull       AccessLevel = "full"
	AccessRestricted AccessLevel = "restricted"
)

// anonymousRequester is recorded for restricted views requested without an id.
const anonymousRequester = "anonymous"

// AccessRequest is one access attempt. Verified is decided by the caller's
// authentication layer, never by the request body.
type AccessRequest struct {
	CapsuleID       string
	RequesterID     string
	Verified        bool
	RequesterPubKey string
	Context         map[string]any
}

// AccessDecision is the outcome of the first leg. Exactly one of Grant and
// Restricted is set.
type AccessDecision struct {
	Level      AccessLevel
	Grant      *models.IssuedBurstKey
	Restricted *models.RestrictedView
}

// FullAccess is what the second leg returns.
type FullAccess struct {
	BurstID   string         `json:"burstId"`
	CapsuleID string         `json:"capsuleId"`
	Content   map[string]any `json:"content"`
}

// AccessResult is the outcome of the one-shot RequestAccess.
type AccessResult struct {
	Level      AccessLevel
	Full       *FullAccess
	Restricted *models.RestrictedView
}

// AccessService routes requests between the restricted ICE view and the
// burst key protected full disclosure.
type AccessService struct {
	capsules *CapsuleService
	keys     *BurstKeyService
	audit    *AuditService
	logger   logging.Logger
}

func NewAccessService(capsules *CapsuleService, keys *BurstKeyService, audit *AuditService, logger logging.Logger) *AccessService {
	return &AccessService{
		capsules: capsules,
		keys:     keys,
		audit:    audit,
		logger:   logger,
	}
}

// BeginAccess is the first leg. Unverified requesters get the restricted view
// and never cause a burst key to exist. Verified requesters get a fresh burst
// key, or a DuplicateActiveError when they already hold one.
func (s *AccessService) BeginAccess(ctx context.Context, req AccessRequest) (*AccessDecision, error) {
	if req.CapsuleID == "" {
		return nil, fmt.Errorf("%w: capsule id is required", common.ErrorInvalidInput)
	}

	if !req.Verified {
		view, err := s.restricted(ctx, req)
		if err != nil {
			return nil, err
		}
		return &AccessDecision{Level: AccessRestricted, Restricted: view}, nil
	}

	grant, err := s.keys.Issue(ctx, IssueInput{
		CapsuleID:      req.CapsuleID,
		AccessorID:     req.RequesterID,
		AccessorPubKey: req.RequesterPubKey,
		Context:        req.Context,
	})
	if err != nil {
		return nil, err
	}
	return &AccessDecision{Level: AccessFull, Grant: grant}, nil
}

func (s *AccessService) restricted(ctx context.Context, req AccessRequest) (*models.RestrictedView, error) {
	view, err := s.capsules.GetRestrictedView(ctx, req.CapsuleID)
	if err != nil {
		return nil, err
	}

	requester := req.RequesterID
	if requester == "" {
		requester = anonymousRequester
	}
	s.audit.Record(ctx, &models.AuditEntry{
		Kind:       models.AuditRestrictedViewIssued,
		CapsuleID:  req.CapsuleID,
		AccessorID: requester,
		Reason:     "unverified requester received emergency contact view",
	})
	return view, nil
}

// CompleteAccess is the second leg: it consumes the burst key and returns the
// decrypted capsule.
func (s *AccessService) CompleteAccess(ctx context.Context, burstKey, requesterID string) (*FullAccess, error) {
	consumed, err := s.keys.VerifyAndConsume(ctx, burstKey, requesterID)
	if err != nil {
		return nil, err
	}

	content, err := s.capsules.GetFullContent(ctx, consumed.CapsuleID)
	if err != nil {
		return nil, err
	}

	return &FullAccess{
		BurstID:   consumed.BurstID,
		CapsuleID: consumed.CapsuleID,
		Content:   content,
	}, nil
}

// RequestAccess runs both legs in one call.
func (s *AccessService) RequestAccess(ctx context.Context, req AccessRequest) (*AccessResult, error) {
	d, err := s.BeginAccess(ctx, req)
	if err != nil {
		return nil, err
	}
	if d.Level == AccessRestricted {
		return &AccessResult{Level: AccessRestricted, Restricted: d.Restricted}, nil
	}

	full, err := s.CompleteAccess(ctx, d.Grant.BurstKey, req.RequesterID)
	if err != nil {
		return nil, err
	}
	return &AccessResult{Level: AccessFull, Full: full}, nil
}
