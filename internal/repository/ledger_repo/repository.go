package ledger_repo

import (
	"context"

	"escrow/internal/domain"
)

// ListFilter narrows the paginated listing used by the admin gateway.
type ListFilter struct {
	Status      *domain.PaymentStatus
	PaymentType *domain.PaymentType
	Page        int
	Size        int
}

// LedgerRepository is the single source of truth for payments. Compound
// writes (transition + audit record + notifications) commit atomically;
// per-payment serialization uses optimistic versioning so unrelated
// payments never contend.
type LedgerRepository interface {
	// Create inserts a new Pending payment. A second non-terminal payment
	// for the same (type, transactionRef) fails with
	// domain.ErrDuplicatePayment.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID loads a payment together with its full audit trail.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// GetByTransactionRef returns the non-terminal payment for a business
	// transaction, or domain.ErrNotFound.
	GetByTransactionRef(ctx context.Context, paymentType domain.PaymentType, transactionRef string) (*domain.Payment, error)

	// ApplyTransition persists an already-validated transition: the payment
	// row is updated only if its stored version is expectedVersion,
	// otherwise domain.ErrConcurrentModification is returned and nothing is
	// written. The audit record and any notification messages commit in the
	// same transaction.
	ApplyTransition(ctx context.Context, payment *domain.Payment, expectedVersion int64, record *domain.AuditRecord, notifications []*domain.OutboxMessage) error

	// List returns a page of payments plus the total match count.
	List(ctx context.Context, filter ListFilter) ([]*domain.Payment, int64, error)

	// Search matches buyer/payee refs and descriptions. Read-only.
	Search(ctx context.Context, query string, limit int) ([]*domain.Payment, error)

	// Statistics aggregates ledger totals without locking any rows.
	Statistics(ctx context.Context) (*domain.LedgerStatistics, error)
}
