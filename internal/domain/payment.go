package domain

import (
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusEscrow   PaymentStatus = "ESCROW"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
	PaymentStatusDisputed PaymentStatus = "DISPUTED"
)

func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch PaymentStatus(s) {
	case PaymentStatusPending, PaymentStatusEscrow, PaymentStatusPaid,
		PaymentStatusRefunded, PaymentStatusDisputed:
		return PaymentStatus(s), true
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusRefunded
}

type PaymentType string

const (
	PaymentTypeOrder      PaymentType = "ORDER"
	PaymentTypeCommission PaymentType = "COMMISSION"
)

func ParsePaymentType(s string) (PaymentType, bool) {
	switch PaymentType(s) {
	case PaymentTypeOrder, PaymentTypeCommission:
		return PaymentType(s), true
	}
	return "", false
}

// Payment is the ledger entity. Monetary values are minor units (cents);
// CommissionBps is the fee fraction in basis points captured at creation.
// The split (PlatformFee, PayeeAmount) is computed once at creation and
// never recomputed, so later fee-schedule changes cannot alter historical
// payouts.
type Payment struct {
	ID             string
	PaymentType    PaymentType
	TransactionRef string
	BuyerRef       string
	PayeeRef       string
	GrossAmount    int64
	Currency       string
	CommissionBps  int64
	PlatformFee    int64
	PayeeAmount    int64
	Status         PaymentStatus
	RefundedAmount *int64
	Description    string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AuditTrail     []AuditRecord
}

// AuditRecord is one accepted transition. Token is the idempotency token of
// the logical request; a replay with the same token is never applied twice.
type AuditRecord struct {
	ID         string
	PaymentID  string
	Token      string
	FromStatus PaymentStatus
	ToStatus   PaymentStatus
	ActorRef   string
	ActorRole  ActorRole
	Reason     string
	CreatedAt  time.Time
}

// LedgerStatistics is a read-only projection over the ledger.
type LedgerStatistics struct {
	TotalGrossAmount int64
	EscrowAmount     int64
	PaidAmount       int64
	RefundedAmount   int64
	CountsByStatus   map[PaymentStatus]int64
	CountsByType     map[PaymentType]int64
}
