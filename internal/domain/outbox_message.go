package domain

import "time"

type OutboxMessageStatus string

const (
	OutboxStatusPending OutboxMessageStatus = "PENDING"
	OutboxStatusSent    OutboxMessageStatus = "SENT"
	OutboxStatusFailed  OutboxMessageStatus = "FAILED"
)

type NotificationEventType string

const (
	NotificationFundsReleased   NotificationEventType = "funds_released"
	NotificationPaymentRefunded NotificationEventType = "payment_refunded"
	NotificationDisputeFiled    NotificationEventType = "dispute_filed"
	NotificationDisputeResolved NotificationEventType = "dispute_resolved"
)

// OutboxMessage is a notification queued for delivery. Rows are written in
// the same transaction as the transition they announce, so a notification
// transport failure can never roll back a monetary state change.
type OutboxMessage struct {
	ID           string
	PaymentID    string
	RecipientRef string
	EventType    NotificationEventType
	Payload      []byte
	Status       OutboxMessageStatus
	Attempts     int
	CreatedAt    time.Time
	SentAt       *time.Time
}
