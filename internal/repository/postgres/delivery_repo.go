package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/talkmesh/internal/model"
)

// DeliveryRepo implements DeliveryRepository using PostgreSQL.
type DeliveryRepo struct{ db *DB }

// NewDeliveryRepo constructs a delivery repository.
func NewDeliveryRepo(db *DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

// terminalStates mirrors model.Delivery.IsFinished for SQL filtering.
var terminalStates = []string{
	model.DeliveryDelivered,
	model.DeliveryConfirmed,
	model.DeliveryFailed,
	model.DeliveryRejected,
	model.DeliveryAborted,
	model.DeliveryExpired,
}

// SaveDelivery upserts a delivery row.
func (r *DeliveryRepo) SaveDelivery(ctx context.Context, d *model.Delivery) error {
	const q = `
INSERT INTO deliveries (message_id, sender_id, receiver_id, group_id, state, group_delivery, attachment_state, time_accepted, time_changed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (message_id, sender_id, receiver_id) DO UPDATE
SET state=EXCLUDED.state,
    attachment_state=EXCLUDED.attachment_state,
    time_changed=EXCLUDED.time_changed`
	_, err := r.db.Pool.Exec(ctx, q,
		d.MessageID, d.SenderID, d.ReceiverID, d.GroupID, d.State, d.GroupDelivery,
		d.AttachmentState, d.TimeAccepted, d.TimeChanged)
	return err
}

// FindUnfinishedBySender selects the client's outgoing non-terminal deliveries.
func (r *DeliveryRepo) FindUnfinishedBySender(ctx context.Context, senderID string) ([]*model.Delivery, error) {
	const q = `
SELECT message_id, sender_id, receiver_id, group_id, state, group_delivery, attachment_state, time_accepted, time_changed
FROM deliveries WHERE sender_id=$1 AND state != ALL($2)
ORDER BY message_id`
	rows, err := r.db.Pool.Query(ctx, q, senderID, terminalStates)
	if err != nil {
		return nil, err
	}
	return scanDeliveries(rows)
}

// FindUnfinishedByReceiver selects the client's incoming non-terminal deliveries.
func (r *DeliveryRepo) FindUnfinishedByReceiver(ctx context.Context, receiverID string) ([]*model.Delivery, error) {
	const q = `
SELECT message_id, sender_id, receiver_id, group_id, state, group_delivery, attachment_state, time_accepted, time_changed
FROM deliveries WHERE receiver_id=$1 AND state != ALL($2)
ORDER BY message_id`
	rows, err := r.db.Pool.Query(ctx, q, receiverID, terminalStates)
	if err != nil {
		return nil, err
	}
	return scanDeliveries(rows)
}

// DeleteMessagesBySender removes all messages authored by the client.
func (r *DeliveryRepo) DeleteMessagesBySender(ctx context.Context, senderID string) (int, error) {
	const q = `DELETE FROM messages WHERE sender_id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, senderID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanDeliveries(rows pgx.Rows) ([]*model.Delivery, error) {
	defer rows.Close()
	var out []*model.Delivery
	for rows.Next() {
		var d model.Delivery
		if err := rows.Scan(&d.MessageID, &d.SenderID, &d.ReceiverID, &d.GroupID, &d.State, &d.GroupDelivery,
			&d.AttachmentState, &d.TimeAccepted, &d.TimeChanged); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
