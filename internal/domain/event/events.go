package event

import "time"

// Event types carried on the order/commission lifecycle topic.
const (
	TypePaymentInitiated  = "payment.initiated"
	TypePaymentCaptured   = "payment.captured"
	TypeDeliveryConfirmed = "delivery.confirmed"
)

// Envelope wraps every lifecycle event with routing metadata.
type Envelope struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentInitiatedEvent is published by the Order/Commission service when a
// buyer starts checkout; it creates the Pending payment.
type PaymentInitiatedEvent struct {
	Envelope
	PaymentType    string `json:"payment_type"`
	TransactionRef string `json:"transaction_ref"`
	BuyerRef       string `json:"buyer_ref"`
	PayeeRef       string `json:"payee_ref"`
	GrossAmount    int64  `json:"gross_amount"`
	Currency       string `json:"currency"`
	CommissionBps  int64  `json:"commission_bps"`
	Description    string `json:"description"`
}

// PaymentCapturedEvent signals that funds were captured from the buyer,
// moving the payment from Pending to Escrow.
type PaymentCapturedEvent struct {
	Envelope
	PaymentID string `json:"payment_id"`
}

// DeliveryConfirmedEvent signals confirmed delivery, triggering automatic
// release of the escrowed funds.
type DeliveryConfirmedEvent struct {
	Envelope
	PaymentID string `json:"payment_id"`
}

// NotificationEvent is the payload published to the notification topic for
// each dispatched outbox row.
type NotificationEvent struct {
	RecipientRef string    `json:"recipient_ref"`
	EventType    string    `json:"event_type"`
	PaymentID    string    `json:"payment_id"`
	Timestamp    time.Time `json:"timestamp"`
}
