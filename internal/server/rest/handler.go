package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/logging"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
)

// CapsuleStore is the part of services.CapsuleService the handlers use.
type CapsuleStore interface {
	Create(ctx context.Context, in services.CreateCapsuleInput) (*models.CapsuleSummary, error)
	GetOwned(ctx context.Context, id, ownerID string) (*models.Capsule, error)
	Revoke(ctx context.Context, id, requesterOwnerID string) (*models.Capsule, error)
	ExportURL(ctx context.Context, id, ownerID string) (string, error)
}

// AccessPolicy is the part of services.AccessService the handlers use.
type AccessPolicy interface {
	BeginAccess(ctx context.Context, req services.AccessRequest) (*services.AccessDecision, error)
	CompleteAccess(ctx context.Context, burstKey, requesterID string) (*services.FullAccess, error)
}

// AuditTrail is the part of services.AuditService the handlers use.
type AuditTrail interface {
	Query(ctx context.Context, capsuleID string, limit int) ([]*models.AuditEntry, error)
}

type Handler struct {
	capsules CapsuleStore
	access   AccessPolicy
	audit    AuditTrail
	logger   logging.Logger
}

func NewHandler(c CapsuleStore, a AccessPolicy, t AuditTrail, l logging.Logger) *Handler {
	return &Handler{capsules: c, access: a, audit: t, logger: l.With("module", "http_handler")}
}

type createCapsuleRequest struct {
	Content     map[string]any         `json:"content"`
	CapsuleType string                 `json:"capsuleType"`
	Metadata    models.CapsuleMetadata `json:"metadata"`
	PublicKey   string                 `json:"publicKey"`
}

func (h *Handler) CreateCapsule(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req createCapsuleRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	sum, err := h.capsules.Create(r.Context(), services.CreateCapsuleInput{
		OwnerID:     id.UserID,
		Content:     req.Content,
		CapsuleType: req.CapsuleType,
		Metadata:    req.Metadata,
		PublicKey:   req.PublicKey,
	})
	if err != nil {
		h.fail(r.Context(), w, "create capsule", err)
		return
	}
	WriteJSON(w, http.StatusCreated, sum)
}

func (h *Handler) GetCapsule(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	c, err := h.capsules.GetOwned(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		h.fail(r.Context(), w, "get capsule", err)
		return
	}
	WriteJSON(w, http.StatusOK, c.Summary())
}

func (h *Handler) RevokeCapsule(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	c, err := h.capsules.Revoke(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		h.fail(r.Context(), w, "revoke capsule", err)
		return
	}
	WriteJSON(w, http.StatusOK, c.Summary())
}

func (h *Handler) ExportCapsule(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	url, err := h.capsules.ExportURL(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		h.fail(r.Context(), w, "export capsule", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) CapsuleAudit(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	capsuleID := chi.URLParam(r, "id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	if _, err := h.capsules.GetOwned(r.Context(), capsuleID, id.UserID); err != nil {
		h.fail(r.Context(), w, "audit capsule", err)
		return
	}

	entries, err := h.audit.Query(r.Context(), capsuleID, limit)
	if err != nil {
		h.fail(r.Context(), w, "audit query", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type accessRequest struct {
	CapsuleID       string         `json:"capsuleId"`
	RequesterID     string         `json:"requesterId"`
	RequesterPubKey string         `json:"requesterPubKey"`
	Context         map[string]any `json:"context"`
}

type fullGrantResponse struct {
	AccessLevel services.AccessLevel `json:"accessLevel"`
	BurstID     string               `json:"burstId"`
	BurstKey    string               `json:"burstKey"`
	CapsuleID   string               `json:"capsuleId"`
	ExpiresAt   time.Time            `json:"expiresAt"`
}

type restrictedResponse struct {
	AccessLevel    services.AccessLevel   `json:"accessLevel"`
	RestrictedView *models.RestrictedView `json:"restrictedView"`
}

// RequestAccess is the first leg. The caller's verification status comes only
// from a valid JWT; without one the request is unverified and may name itself
// in requesterId for the audit trail.
func (h *Handler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	in := services.AccessRequest{
		CapsuleID:       req.CapsuleID,
		RequesterID:     req.RequesterID,
		RequesterPubKey: req.RequesterPubKey,
		Context:         req.Context,
	}
	if id, ok := IdentityFrom(r.Context()); ok {
		in.RequesterID = id.UserID
		in.Verified = id.Verified
	}

	d, err := h.access.BeginAccess(r.Context(), in)
	if err != nil {
		h.fail(r.Context(), w, "request access", err)
		return
	}

	if d.Level == services.AccessRestricted {
		WriteJSON(w, http.StatusOK, restrictedResponse{AccessLevel: d.Level, RestrictedView: d.Restricted})
		return
	}
	WriteJSON(w, http.StatusOK, fullGrantResponse{
		AccessLevel: d.Level,
		BurstID:     d.Grant.BurstID,
		BurstKey:    d.Grant.BurstKey,
		CapsuleID:   d.Grant.CapsuleID,
		ExpiresAt:   d.Grant.ExpiresAt,
	})
}

type consumeRequest struct {
	BurstKey string `json:"burstKey"`
}

// ConsumeAccess is the second leg.
func (h *Handler) ConsumeAccess(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req consumeRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	full, err := h.access.CompleteAccess(r.Context(), req.BurstKey, id.UserID)
	if err != nil {
		h.fail(r.Context(), w, "consume access", err)
		return
	}
	WriteJSON(w, http.StatusOK, full)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.Debug(ctx, op+" failed", "error", err)
	writeServiceError(w, err)
}
