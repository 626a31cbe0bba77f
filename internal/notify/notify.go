// Package notify delivers in-app notifications. Delivery is best-effort:
// a failed notification is logged and never blocks or rolls back the
// business operation that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/stagegate/sgpm/internal/models"
	"github.com/stagegate/sgpm/internal/store"
)

// Notifier sends a notification to a recipient. Implementations must be
// fire-and-forget safe: callers ignore the error beyond logging.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, eventType models.EventType, payload map[string]any) error
}

// StoreNotifier persists notifications to the store and logs them.
type StoreNotifier struct {
	store store.Store
}

// NewStoreNotifier creates a store-backed notifier.
func NewStoreNotifier(s store.Store) *StoreNotifier {
	return &StoreNotifier{store: s}
}

// Notify records an in-app notification for the recipient.
func (n *StoreNotifier) Notify(ctx context.Context, recipientID string, eventType models.EventType, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}

	notification := &models.Notification{
		RecipientID: recipientID,
		EventType:   eventType,
		Payload:     string(data),
	}
	if err := n.store.CreateNotification(ctx, notification); err != nil {
		slog.Warn("notification delivery failed", "recipient", recipientID, "event", eventType, "error", err)
		return err
	}

	slog.Debug("notification queued", "recipient", recipientID, "event", eventType)
	return nil
}

// Discard is a Notifier that drops everything. Used in tests and when the
// notification channel is disabled.
type Discard struct{}

// Notify does nothing.
func (Discard) Notify(context.Context, string, models.EventType, map[string]any) error {
	return nil
}
