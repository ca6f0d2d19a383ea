package repository

import (
	"context"

	"github.com/and161185/talkmesh/internal/model"
)

// DeliveryRepository provides access to deliveries and their messages.
type DeliveryRepository interface {
	// SaveDelivery upserts a delivery by (messageID, senderID, receiverID).
	SaveDelivery(ctx context.Context, d *model.Delivery) error
	// FindUnfinishedBySender returns the client's outgoing non-terminal deliveries.
	FindUnfinishedBySender(ctx context.Context, senderID string) ([]*model.Delivery, error)
	// FindUnfinishedByReceiver returns the client's incoming non-terminal deliveries.
	FindUnfinishedByReceiver(ctx context.Context, receiverID string) ([]*model.Delivery, error)

	// DeleteMessagesBySender removes all messages authored by the client and
	// returns how many were removed.
	DeleteMessagesBySender(ctx context.Context, senderID string) (int, error)
}
