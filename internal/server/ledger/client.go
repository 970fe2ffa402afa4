// Package ledger mirrors capsule and burst key events to an external,
// append-only ledger service. The ledger is never consulted for access
// decisions; every call here is best-effort.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/server/outbound"
)

const defaultTimeout = 5 * time.Second

// Event kinds understood by the ledger service.
const (
	KindCapsuleCreated = "capsule-created"
	KindKeyIssued      = "key-issued"
	KindKeyConsumed    = "key-consumed"
)

// Event is the body posted for every mirrored fact. Secrets and content never
// appear here; only identifiers, the content hash and timestamps.
type Event struct {
	Kind        string    `json:"kind"`
	CapsuleID   string    `json:"capsuleId"`
	ContentHash string    `json:"contentHash,omitempty"`
	CapsuleType string    `json:"capsuleType,omitempty"`
	BurstID     string    `json:"burstId,omitempty"`
	AccessorID  string    `json:"accessorId,omitempty"`
	At          time.Time `json:"at"`
}

type receipt struct {
	Receipt string `json:"receipt"`
}

// Client records events and returns the ledger's receipt for each.
type Client interface {
	Record(ctx context.Context, e Event) (string, error)
}

// HTTPClient posts events as JSON to <endpoint>/events.
type HTTPClient struct {
	client   *http.Client
	endpoint string
}

func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		client:   &http.Client{Timeout: defaultTimeout},
		endpoint: strings.TrimRight(endpoint, "/"),
	}
}

func (c *HTTPClient) Record(ctx context.Context, e Event) (string, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return "", outbound.Permanent(fmt.Errorf("failed to encode event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/events", bytes.NewReader(body))
	if err != nil {
		return "", outbound.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("ledger unavailable: status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return "", outbound.Permanent(fmt.Errorf("ledger rejected event: status %d", resp.StatusCode))
	}

	var r receipt
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return r.Receipt, nil
}

// NopClient accepts everything and returns no receipt. Used when no ledger
// endpoint is configured.
type NopClient struct{}

func (NopClient) Record(ctx context.Context, e Event) (string, error) {
	return "", nil
}
