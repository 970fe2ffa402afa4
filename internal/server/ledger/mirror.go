package ledger

import (
	"context"

	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/outbound"
)

// ReceiptFunc stores the ledger receipt of a created capsule.
type ReceiptFunc func(ctx context.Context, capsuleID, receipt string) error

// Mirror turns domain events into outbound tasks. Its methods return
// immediately; delivery happens on the dispatcher's workers.
type Mirror struct {
	client    Client
	queue     outbound.Enqueuer
	onReceipt ReceiptFunc
}

func NewMirror(client Client, queue outbound.Enqueuer, onReceipt ReceiptFunc) *Mirror {
	return &Mirror{client: client, queue: queue, onReceipt: onReceipt}
}

func (m *Mirror) CapsuleCreated(c *models.Capsule) {
	e := Event{
		Kind:        KindCapsuleCreated,
		CapsuleID:   c.ID,
		ContentHash: c.ContentHash,
		CapsuleType: c.CapsuleType,
		At:          c.CreatedAt,
	}
	m.queue.Enqueue(outbound.Task{
		Name: "ledger." + KindCapsuleCreated,
		Run: func(ctx context.Context) error {
			ref, err := m.client.Record(ctx, e)
			if err != nil {
				return err
			}
			if ref == "" || m.onReceipt == nil {
				return nil
			}
			return m.onReceipt(ctx, c.ID, ref)
		},
	})
}

func (m *Mirror) KeyIssued(k *models.BurstKey) {
	m.record(Event{
		Kind:       KindKeyIssued,
		CapsuleID:  k.CapsuleID,
		BurstID:    k.ID,
		AccessorID: k.AccessorID,
		At:         k.IssuedAt,
	})
}

func (m *Mirror) KeyConsumed(k *models.ConsumedBurstKey) {
	m.record(Event{
		Kind:       KindKeyConsumed,
		CapsuleID:  k.CapsuleID,
		BurstID:    k.BurstID,
		AccessorID: k.AccessorID,
		At:         k.ConsumedAt,
	})
}

func (m *Mirror) record(e Event) {
	m.queue.Enqueue(outbound.Task{
		Name: "ledger." + e.Kind,
		Run: func(ctx context.Context) error {
			_, err := m.client.Record(ctx, e)
			return err
		},
	})
}
