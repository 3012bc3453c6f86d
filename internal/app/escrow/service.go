package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"escrow/internal/commission"
	"escrow/internal/domain"
	"escrow/internal/domain/event"
	"escrow/internal/repository/ledger_repo"
	"escrow/internal/util"
)

// maxTransitionAttempts bounds internal retries on version conflicts before
// the conflict is surfaced to the caller.
const maxTransitionAttempts = 3

type DisputeOutcome string

const (
	OutcomeRelease DisputeOutcome = "RELEASE"
	OutcomeRefund  DisputeOutcome = "REFUND"
)

func ParseDisputeOutcome(s string) (DisputeOutcome, bool) {
	switch DisputeOutcome(s) {
	case OutcomeRelease, OutcomeRefund:
		return DisputeOutcome(s), true
	}
	return "", false
}

type CreatePaymentRequest struct {
	PaymentType    domain.PaymentType
	TransactionRef string
	BuyerRef       string
	PayeeRef       string
	GrossAmount    int64
	Currency       string
	CommissionBps  int64
	Description    string
}

// EscrowService orchestrates payment lifecycle operations: each mutation is
// one state-machine transition committed atomically with its audit record
// and any notifications. All operations are retry-safe; replaying a request
// with the same idempotency token never double-applies.
type EscrowService interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*domain.Payment, error)
	CapturePayment(ctx context.Context, paymentID, token string) (*domain.Payment, error)
	ReleaseEscrow(ctx context.Context, paymentID string, actor domain.Actor, token string) (*domain.Payment, error)
	Refund(ctx context.Context, paymentID string, actor domain.Actor, amount *int64, reason, token string) (*domain.Payment, error)
	FileDispute(ctx context.Context, paymentID string, actor domain.Actor, reason, token string) (*domain.Payment, error)
	ResolveDispute(ctx context.Context, paymentID string, actor domain.Actor, outcome DisputeOutcome, amount *int64, reason, token string) (*domain.Payment, error)

	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	ListPayments(ctx context.Context, filter ledger_repo.ListFilter) ([]*domain.Payment, int64, error)
	SearchPayments(ctx context.Context, query string, limit int) ([]*domain.Payment, error)
	Statistics(ctx context.Context) (*domain.LedgerStatistics, error)
}

type escrowService struct {
	ledger ledger_repo.LedgerRepository
	logger *zap.Logger
}

func NewEscrowService(ledger ledger_repo.LedgerRepository, logger *zap.Logger) EscrowService {
	return &escrowService{ledger: ledger, logger: logger}
}

func (s *escrowService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*domain.Payment, error) {
	if req.TransactionRef == "" || req.BuyerRef == "" || req.PayeeRef == "" {
		return nil, fmt.Errorf("transaction, buyer and payee refs are required: %w", domain.ErrValidation)
	}
	if _, ok := domain.ParsePaymentType(string(req.PaymentType)); !ok {
		return nil, fmt.Errorf("unknown payment type %q: %w", req.PaymentType, domain.ErrValidation)
	}
	if req.Currency == "" {
		return nil, fmt.Errorf("currency is required: %w", domain.ErrValidation)
	}

	platformFee, payeeAmount, err := commission.Split(req.GrossAmount, req.CommissionBps)
	if err != nil {
		return nil, err
	}

	if existing, err := s.ledger.GetByTransactionRef(ctx, req.PaymentType, req.TransactionRef); err == nil {
		s.logger.Info("Reusing existing non-terminal payment for transaction",
			zap.String("payment_id", existing.ID),
			zap.String("transaction_ref", req.TransactionRef))
		return existing, domain.ErrDuplicatePayment
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing payment: %w", err)
	}

	now := time.Now()
	payment := &domain.Payment{
		ID:             util.GenerateUUID(),
		PaymentType:    req.PaymentType,
		TransactionRef: req.TransactionRef,
		BuyerRef:       req.BuyerRef,
		PayeeRef:       req.PayeeRef,
		GrossAmount:    req.GrossAmount,
		Currency:       req.Currency,
		CommissionBps:  req.CommissionBps,
		PlatformFee:    platformFee,
		PayeeAmount:    payeeAmount,
		Status:         domain.PaymentStatusPending,
		Description:    req.Description,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.ledger.Create(ctx, payment); err != nil {
		if errors.Is(err, domain.ErrDuplicatePayment) {
			// Lost a creation race; hand back the winner.
			if existing, getErr := s.ledger.GetByTransactionRef(ctx, req.PaymentType, req.TransactionRef); getErr == nil {
				return existing, domain.ErrDuplicatePayment
			}
			return nil, err
		}
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	s.logger.Info("Payment created",
		zap.String("payment_id", payment.ID),
		zap.String("payment_type", string(payment.PaymentType)),
		zap.String("transaction_ref", payment.TransactionRef),
		zap.Int64("gross_amount", payment.GrossAmount),
		zap.Int64("platform_fee", payment.PlatformFee),
		zap.Int64("payee_amount", payment.PayeeAmount))
	return payment, nil
}

func (s *escrowService) CapturePayment(ctx context.Context, paymentID, token string) (*domain.Payment, error) {
	return s.transition(ctx, paymentID, domain.TransitionRequest{
		Token:  token,
		Target: domain.PaymentStatusEscrow,
		Actor:  domain.Actor{Ref: "payment-pipeline", Role: domain.RoleSystem},
	}, nil)
}

func (s *escrowService) ReleaseEscrow(ctx context.Context, paymentID string, actor domain.Actor, token string) (*domain.Payment, error) {
	return s.transition(ctx, paymentID, domain.TransitionRequest{
		Token:  token,
		Target: domain.PaymentStatusPaid,
		Actor:  actor,
	}, func(p *domain.Payment) []*domain.OutboxMessage {
		return []*domain.OutboxMessage{
			s.notification(p, p.PayeeRef, domain.NotificationFundsReleased),
			s.notification(p, p.BuyerRef, domain.NotificationFundsReleased),
		}
	})
}

func (s *escrowService) Refund(ctx context.Context, paymentID string, actor domain.Actor, amount *int64, reason, token string) (*domain.Payment, error) {
	return s.transition(ctx, paymentID, domain.TransitionRequest{
		Token:        token,
		Target:       domain.PaymentStatusRefunded,
		Actor:        actor,
		Reason:       reason,
		RefundAmount: amount,
	}, func(p *domain.Payment) []*domain.OutboxMessage {
		return []*domain.OutboxMessage{
			s.notification(p, p.BuyerRef, domain.NotificationPaymentRefunded),
			s.notification(p, p.PayeeRef, domain.NotificationPaymentRefunded),
		}
	})
}

func (s *escrowService) FileDispute(ctx context.Context, paymentID string, actor domain.Actor, reason, token string) (*domain.Payment, error) {
	return s.transition(ctx, paymentID, domain.TransitionRequest{
		Token:  token,
		Target: domain.PaymentStatusDisputed,
		Actor:  actor,
		Reason: reason,
	}, func(p *domain.Payment) []*domain.OutboxMessage {
		// The counterparty of whoever filed gets notified.
		recipient := p.PayeeRef
		if actor.Ref == p.PayeeRef {
			recipient = p.BuyerRef
		}
		return []*domain.OutboxMessage{
			s.notification(p, recipient, domain.NotificationDisputeFiled),
		}
	})
}

func (s *escrowService) ResolveDispute(ctx context.Context, paymentID string, actor domain.Actor, outcome DisputeOutcome, amount *int64, reason, token string) (*domain.Payment, error) {
	if !actor.Privileged() {
		return nil, fmt.Errorf("dispute resolution requires admin privilege: %w", domain.ErrUnauthorized)
	}
	target := domain.PaymentStatusPaid
	if outcome == OutcomeRefund {
		target = domain.PaymentStatusRefunded
	} else if outcome != OutcomeRelease {
		return nil, fmt.Errorf("unknown dispute outcome %q: %w", outcome, domain.ErrInvalidTransition)
	}
	if target == domain.PaymentStatusPaid && amount != nil {
		return nil, fmt.Errorf("release outcome cannot carry a refund amount: %w", domain.ErrInvalidAmount)
	}
	return s.transition(ctx, paymentID, domain.TransitionRequest{
		Token:        token,
		Target:       target,
		Actor:        actor,
		Reason:       reason,
		RefundAmount: amount,
	}, func(p *domain.Payment) []*domain.OutboxMessage {
		return []*domain.OutboxMessage{
			s.notification(p, p.BuyerRef, domain.NotificationDisputeResolved),
			s.notification(p, p.PayeeRef, domain.NotificationDisputeResolved),
		}
	})
}

// transition runs one logical state-machine transition with bounded retries
// on version conflicts. The buildNotifications callback sees the payment in
// its post-transition state.
func (s *escrowService) transition(ctx context.Context, paymentID string, req domain.TransitionRequest, buildNotifications func(*domain.Payment) []*domain.OutboxMessage) (*domain.Payment, error) {
	if req.Token == "" {
		req.Token = util.GenerateUUID()
	}

	var lastErr error
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		payment, err := s.ledger.GetByID(ctx, paymentID)
		if err != nil {
			return nil, err
		}

		for _, rec := range payment.AuditTrail {
			if rec.Token == req.Token {
				s.logger.Info("Transition token already applied, returning stored payment",
					zap.String("payment_id", paymentID),
					zap.String("token", req.Token))
				return payment, nil
			}
		}

		expectedVersion := payment.Version
		record, err := payment.ApplyTransition(req)
		if err != nil {
			return nil, err
		}
		record.ID = util.GenerateUUID()

		var notifications []*domain.OutboxMessage
		if buildNotifications != nil {
			notifications = buildNotifications(payment)
		}

		err = s.ledger.ApplyTransition(ctx, payment, expectedVersion, record, notifications)
		if err == nil {
			s.logger.Info("Payment transition applied",
				zap.String("payment_id", payment.ID),
				zap.String("from", string(record.FromStatus)),
				zap.String("to", string(record.ToStatus)),
				zap.String("actor_ref", record.ActorRef),
				zap.String("actor_role", string(record.ActorRole)),
				zap.Int64("version", payment.Version))
			return payment, nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("Version conflict applying transition, re-reading payment",
			zap.String("payment_id", paymentID),
			zap.String("target", string(req.Target)),
			zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("transition on payment %s did not settle after %d attempts: %w",
		paymentID, maxTransitionAttempts, lastErr)
}

func (s *escrowService) notification(p *domain.Payment, recipientRef string, eventType domain.NotificationEventType) *domain.OutboxMessage {
	payload, err := json.Marshal(event.NotificationEvent{
		RecipientRef: recipientRef,
		EventType:    string(eventType),
		PaymentID:    p.ID,
		Timestamp:    p.UpdatedAt,
	})
	if err != nil {
		// Marshalling a flat struct of strings cannot fail; keep the row
		// anyway so the dispatcher surfaces the problem.
		s.logger.Error("Failed to marshal notification payload",
			zap.String("payment_id", p.ID), zap.Error(err))
	}
	return &domain.OutboxMessage{
		ID:           util.GenerateUUID(),
		PaymentID:    p.ID,
		RecipientRef: recipientRef,
		EventType:    eventType,
		Payload:      payload,
		Status:       domain.OutboxStatusPending,
		CreatedAt:    p.UpdatedAt,
	}
}

func (s *escrowService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get payment %s: %w", id, err)
	}
	return payment, nil
}

func (s *escrowService) ListPayments(ctx context.Context, filter ledger_repo.ListFilter) ([]*domain.Payment, int64, error) {
	payments, total, err := s.ledger.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, total, nil
}

func (s *escrowService) SearchPayments(ctx context.Context, query string, limit int) ([]*domain.Payment, error) {
	payments, err := s.ledger.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search payments: %w", err)
	}
	return payments, nil
}

func (s *escrowService) Statistics(ctx context.Context) (*domain.LedgerStatistics, error) {
	stats, err := s.ledger.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate statistics: %w", err)
	}
	return stats, nil
}
