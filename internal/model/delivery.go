package model

import "time"

// Delivery states.
const (
	DeliveryNew        = "new"
	DeliveryDelivering = "delivering"
	DeliveryDelivered  = "delivered"
	DeliveryConfirmed  = "deliveredAcknowledged"
	DeliveryFailed     = "failed"
	DeliveryRejected   = "rejected"
	DeliveryAborted    = "aborted"
	DeliveryExpired    = "expired"
)

// Attachment sub-states of a delivery.
const (
	AttachmentNone      = "none"
	AttachmentUploading = "uploading"
	AttachmentUploaded  = "uploaded"
	AttachmentFailed    = "failed"
)

// Delivery tracks one (message, sender, receiver) triple through its lifecycle.
type Delivery struct {
	MessageID       string
	SenderID        string
	ReceiverID      string
	GroupID         string // set when GroupDelivery
	State           string
	GroupDelivery   bool
	AttachmentState string
	TimeAccepted    time.Time
	TimeChanged     time.Time
}

// IsFinished reports whether the delivery reached a terminal state.
func (d *Delivery) IsFinished() bool {
	switch d.State {
	case DeliveryDelivered, DeliveryConfirmed, DeliveryFailed,
		DeliveryRejected, DeliveryAborted, DeliveryExpired:
		return true
	}
	return false
}

// IsInFlight reports whether the delivery is currently being handed over.
func (d *Delivery) IsInFlight() bool {
	return d.State == DeliveryDelivering
}

// Message is the ciphertext payload a set of deliveries points at.
type Message struct {
	MessageID    string
	SenderID     string
	Body         string // opaque ciphertext
	AttachmentID string
	TimeSent     time.Time
}
