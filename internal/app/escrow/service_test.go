package escrow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"escrow/internal/domain"
	"escrow/internal/repository/ledger_repo"
)

// fakeLedger is an in-memory LedgerRepository with the same optimistic
// versioning and token-uniqueness semantics as the postgres implementation.
type fakeLedger struct {
	mu            sync.Mutex
	payments      map[string]*domain.Payment
	notifications []*domain.OutboxMessage
	applyErrs     []error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{payments: make(map[string]*domain.Payment)}
}

func copyPayment(p *domain.Payment) *domain.Payment {
	cp := *p
	if p.RefundedAmount != nil {
		v := *p.RefundedAmount
		cp.RefundedAmount = &v
	}
	cp.AuditTrail = append([]domain.AuditRecord(nil), p.AuditTrail...)
	return &cp
}

func (f *fakeLedger) Create(ctx context.Context, payment *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.PaymentType == payment.PaymentType && p.TransactionRef == payment.TransactionRef && !p.Status.IsTerminal() {
			return domain.ErrDuplicatePayment
		}
	}
	f.payments[payment.ID] = copyPayment(payment)
	return nil
}

func (f *fakeLedger) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyPayment(p), nil
}

func (f *fakeLedger) GetByTransactionRef(ctx context.Context, paymentType domain.PaymentType, transactionRef string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.PaymentType == paymentType && p.TransactionRef == transactionRef && !p.Status.IsTerminal() {
			return copyPayment(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeLedger) ApplyTransition(ctx context.Context, payment *domain.Payment, expectedVersion int64, record *domain.AuditRecord, notifications []*domain.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.applyErrs) > 0 {
		err := f.applyErrs[0]
		f.applyErrs = f.applyErrs[1:]
		if err != nil {
			return err
		}
	}
	stored, ok := f.payments[payment.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return domain.ErrConcurrentModification
	}
	for _, p := range f.payments {
		for _, rec := range p.AuditTrail {
			if rec.Token == record.Token {
				return domain.ErrConcurrentModification
			}
		}
	}
	f.payments[payment.ID] = copyPayment(payment)
	f.notifications = append(f.notifications, notifications...)
	return nil
}

func (f *fakeLedger) List(ctx context.Context, filter ledger_repo.ListFilter) ([]*domain.Payment, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Payment
	for _, p := range f.payments {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.PaymentType != nil && p.PaymentType != *filter.PaymentType {
			continue
		}
		out = append(out, copyPayment(p))
	}
	return out, int64(len(out)), nil
}

func (f *fakeLedger) Search(ctx context.Context, query string, limit int) ([]*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Payment
	for _, p := range f.payments {
		if strings.Contains(p.BuyerRef, query) || strings.Contains(p.PayeeRef, query) || strings.Contains(p.Description, query) {
			out = append(out, copyPayment(p))
		}
	}
	return out, nil
}

func (f *fakeLedger) Statistics(ctx context.Context) (*domain.LedgerStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &domain.LedgerStatistics{
		CountsByStatus: make(map[domain.PaymentStatus]int64),
		CountsByType:   make(map[domain.PaymentType]int64),
	}
	for _, p := range f.payments {
		stats.TotalGrossAmount += p.GrossAmount
		stats.CountsByStatus[p.Status]++
		stats.CountsByType[p.PaymentType]++
		switch p.Status {
		case domain.PaymentStatusEscrow, domain.PaymentStatusDisputed:
			stats.EscrowAmount += p.GrossAmount
		case domain.PaymentStatusPaid:
			stats.PaidAmount += p.GrossAmount
		case domain.PaymentStatusRefunded:
			if p.RefundedAmount != nil {
				stats.RefundedAmount += *p.RefundedAmount
			}
		}
	}
	return stats, nil
}

var (
	admin = domain.Actor{Ref: "admin-1", Role: domain.RoleAdmin}
	buyer = domain.Actor{Ref: "buyer-1", Role: domain.RoleBuyer}
)

func newTestService(t *testing.T) (EscrowService, *fakeLedger) {
	t.Helper()
	ledger := newFakeLedger()
	return NewEscrowService(ledger, zap.NewNop()), ledger
}

func createTestPayment(t *testing.T, svc EscrowService, gross, bps int64) *domain.Payment {
	t.Helper()
	payment, err := svc.CreatePayment(context.Background(), CreatePaymentRequest{
		PaymentType:    domain.PaymentTypeOrder,
		TransactionRef: "order-1",
		BuyerRef:       "buyer-1",
		PayeeRef:       "artist-1",
		GrossAmount:    gross,
		Currency:       "USD",
		CommissionBps:  bps,
		Description:    "commissioned artwork",
	})
	if err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}
	return payment
}

func escrowedPayment(t *testing.T, svc EscrowService, gross int64) *domain.Payment {
	t.Helper()
	payment := createTestPayment(t, svc, gross, 1500)
	captured, err := svc.CapturePayment(context.Background(), payment.ID, "capture-token")
	if err != nil {
		t.Fatalf("CapturePayment failed: %v", err)
	}
	return captured
}

func TestCreateAndCapture(t *testing.T) {
	svc, _ := newTestService(t)

	payment := createTestPayment(t, svc, 10000, 1500)
	if payment.Status != domain.PaymentStatusPending {
		t.Fatalf("new payment status = %s, want PENDING", payment.Status)
	}
	if payment.PlatformFee != 1500 || payment.PayeeAmount != 8500 {
		t.Fatalf("split = {%d, %d}, want {1500, 8500}", payment.PlatformFee, payment.PayeeAmount)
	}

	captured, err := svc.CapturePayment(context.Background(), payment.ID, "capture-token")
	if err != nil {
		t.Fatalf("CapturePayment failed: %v", err)
	}
	if captured.Status != domain.PaymentStatusEscrow {
		t.Fatalf("captured payment status = %s, want ESCROW", captured.Status)
	}
}

func TestCreateDuplicateReturnsExisting(t *testing.T) {
	svc, _ := newTestService(t)
	first := createTestPayment(t, svc, 10000, 1500)

	second, err := svc.CreatePayment(context.Background(), CreatePaymentRequest{
		PaymentType:    domain.PaymentTypeOrder,
		TransactionRef: "order-1",
		BuyerRef:       "buyer-1",
		PayeeRef:       "artist-1",
		GrossAmount:    10000,
		Currency:       "USD",
		CommissionBps:  1500,
	})
	if !errors.Is(err, domain.ErrDuplicatePayment) {
		t.Fatalf("expected ErrDuplicatePayment, got %v", err)
	}
	if second == nil || second.ID != first.ID {
		t.Fatalf("expected the existing payment back, got %+v", second)
	}
}

func TestReleaseEnqueuesNotifications(t *testing.T) {
	svc, ledger := newTestService(t)
	payment := escrowedPayment(t, svc, 10000)

	released, err := svc.ReleaseEscrow(context.Background(), payment.ID, admin, "release-token")
	if err != nil {
		t.Fatalf("ReleaseEscrow failed: %v", err)
	}
	if released.Status != domain.PaymentStatusPaid {
		t.Fatalf("status = %s, want PAID", released.Status)
	}
	if len(ledger.notifications) != 2 {
		t.Fatalf("expected 2 notifications (payee + buyer), got %d", len(ledger.notifications))
	}
	recipients := map[string]bool{}
	for _, n := range ledger.notifications {
		if n.EventType != domain.NotificationFundsReleased {
			t.Fatalf("unexpected event type %s", n.EventType)
		}
		recipients[n.RecipientRef] = true
	}
	if !recipients["artist-1"] || !recipients["buyer-1"] {
		t.Fatalf("notifications missing a party: %v", recipients)
	}
}

func TestReleaseIdempotentUnderSameToken(t *testing.T) {
	svc, ledger := newTestService(t)
	payment := escrowedPayment(t, svc, 10000)

	first, err := svc.ReleaseEscrow(context.Background(), payment.ID, admin, "release-token")
	if err != nil {
		t.Fatalf("first release failed: %v", err)
	}

	second, err := svc.ReleaseEscrow(context.Background(), payment.ID, admin, "release-token")
	if err != nil {
		t.Fatalf("replayed release must be a no-op, got %v", err)
	}
	if second.Status != domain.PaymentStatusPaid {
		t.Fatalf("replay returned status %s", second.Status)
	}
	if len(second.AuditTrail) != len(first.AuditTrail) {
		t.Fatalf("replay grew the audit trail: %d -> %d", len(first.AuditTrail), len(second.AuditTrail))
	}
	if len(ledger.notifications) != 2 {
		t.Fatalf("replay double-notified: %d notifications", len(ledger.notifications))
	}
}

func TestReleaseAlreadyPaidFails(t *testing.T) {
	svc, _ := newTestService(t)
	payment := escrowedPayment(t, svc, 10000)

	if _, err := svc.ReleaseEscrow(context.Background(), payment.ID, admin, "t-1"); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	before, _ := svc.GetPayment(context.Background(), payment.ID)

	_, err := svc.ReleaseEscrow(context.Background(), payment.ID, admin, "t-2")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	after, _ := svc.GetPayment(context.Background(), payment.ID)
	if len(after.AuditTrail) != len(before.AuditTrail) {
		t.Fatalf("failed release changed the audit trail")
	}
	if after.Status != domain.PaymentStatusPaid {
		t.Fatalf("failed release changed status to %s", after.Status)
	}
}

func TestFullRefundDefaultsToGross(t *testing.T) {
	svc, _ := newTestService(t)
	payment := escrowedPayment(t, svc, 5000)

	refunded, err := svc.Refund(context.Background(), payment.ID, admin, nil, "buyer request", "refund-token")
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if refunded.Status != domain.PaymentStatusRefunded {
		t.Fatalf("status = %s, want REFUNDED", refunded.Status)
	}
	if refunded.RefundedAmount == nil || *refunded.RefundedAmount != 5000 {
		t.Fatalf("refundedAmount = %v, want 5000", refunded.RefundedAmount)
	}
}

func TestDisputeThenPartialRefundResolution(t *testing.T) {
	svc, _ := newTestService(t)
	payment := escrowedPayment(t, svc, 5000)
	trailBefore := len(payment.AuditTrail)

	disputed, err := svc.FileDispute(context.Background(), payment.ID, buyer, "never delivered", "dispute-token")
	if err != nil {
		t.Fatalf("FileDispute failed: %v", err)
	}
	if disputed.Status != domain.PaymentStatusDisputed {
		t.Fatalf("status = %s, want DISPUTED", disputed.Status)
	}

	partial := int64(3000)
	resolved, err := svc.ResolveDispute(context.Background(), payment.ID, admin, OutcomeRefund, &partial, "partial compensation", "resolve-token")
	if err != nil {
		t.Fatalf("ResolveDispute failed: %v", err)
	}
	if resolved.Status != domain.PaymentStatusRefunded {
		t.Fatalf("status = %s, want REFUNDED", resolved.Status)
	}
	if resolved.RefundedAmount == nil || *resolved.RefundedAmount != 3000 {
		t.Fatalf("refundedAmount = %v, want 3000", resolved.RefundedAmount)
	}
	if len(resolved.AuditTrail)-trailBefore != 2 {
		t.Fatalf("expected exactly 2 new audit records, got %d", len(resolved.AuditTrail)-trailBefore)
	}
}

func TestResolveDisputeRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	payment := escrowedPayment(t, svc, 5000)
	if _, err := svc.FileDispute(context.Background(), payment.ID, buyer, "reason", "d-token"); err != nil {
		t.Fatalf("FileDispute failed: %v", err)
	}

	_, err := svc.ResolveDispute(context.Background(), payment.ID, buyer, OutcomeRelease, nil, "reason", "r-token")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTransitionRetriesVersionConflict(t *testing.T) {
	svc, ledger := newTestService(t)
	payment := escrowedPayment(t, svc, 10000)

	ledger.applyErrs = []error{domain.ErrConcurrentModification, domain.ErrConcurrentModification}
	released, err := svc.ReleaseEscrow(context.Background(), payment.ID, admin, "release-token")
	if err != nil {
		t.Fatalf("release should survive transient version conflicts: %v", err)
	}
	if released.Status != domain.PaymentStatusPaid {
		t.Fatalf("status = %s, want PAID", released.Status)
	}
}

func TestTransitionSurfacesPersistentConflict(t *testing.T) {
	svc, ledger := newTestService(t)
	payment := escrowedPayment(t, svc, 10000)

	ledger.applyErrs = []error{
		domain.ErrConcurrentModification,
		domain.ErrConcurrentModification,
		domain.ErrConcurrentModification,
	}
	_, err := svc.ReleaseEscrow(context.Background(), payment.ID, admin, "release-token")
	if !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification after retries, got %v", err)
	}
}

func TestConcurrentReleaseAndRefund(t *testing.T) {
	svc, _ := newTestService(t)
	payment := escrowedPayment(t, svc, 10000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.ReleaseEscrow(context.Background(), payment.ID, admin, "release-token")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.Refund(context.Background(), payment.ID, admin, nil, "buyer request", "refund-token")
	}()
	wg.Wait()

	var succeeded, failed int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		failed++
		if !errors.Is(err, domain.ErrInvalidTransition) && !errors.Is(err, domain.ErrConcurrentModification) {
			t.Fatalf("loser failed with unexpected error: %v", err)
		}
	}
	if succeeded != 1 || failed != 1 {
		t.Fatalf("expected exactly one winner, got %d winners / %d losers", succeeded, failed)
	}

	final, err := svc.GetPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("GetPayment failed: %v", err)
	}
	if final.Status != domain.PaymentStatusPaid && final.Status != domain.PaymentStatusRefunded {
		t.Fatalf("ledger ended in inconsistent state %s", final.Status)
	}
}

func TestStatisticsSnapshot(t *testing.T) {
	svc, _ := newTestService(t)

	p1, err := svc.CreatePayment(context.Background(), CreatePaymentRequest{
		PaymentType:    domain.PaymentTypeOrder,
		TransactionRef: "order-1",
		BuyerRef:       "buyer-1",
		PayeeRef:       "artist-1",
		GrossAmount:    10000,
		Currency:       "USD",
		CommissionBps:  1500,
	})
	if err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}
	p2, err := svc.CreatePayment(context.Background(), CreatePaymentRequest{
		PaymentType:    domain.PaymentTypeCommission,
		TransactionRef: "commission-1",
		BuyerRef:       "buyer-2",
		PayeeRef:       "artist-2",
		GrossAmount:    4000,
		Currency:       "USD",
		CommissionBps:  1000,
	})
	if err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}

	if _, err := svc.CapturePayment(context.Background(), p1.ID, "c1"); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if _, err := svc.CapturePayment(context.Background(), p2.ID, "c2"); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if _, err := svc.ReleaseEscrow(context.Background(), p1.ID, admin, "r1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	stats, err := svc.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.TotalGrossAmount != 14000 {
		t.Errorf("TotalGrossAmount = %d, want 14000", stats.TotalGrossAmount)
	}
	if stats.EscrowAmount != 4000 {
		t.Errorf("EscrowAmount = %d, want 4000", stats.EscrowAmount)
	}
	if stats.PaidAmount != 10000 {
		t.Errorf("PaidAmount = %d, want 10000", stats.PaidAmount)
	}
	if stats.CountsByType[domain.PaymentTypeOrder] != 1 || stats.CountsByType[domain.PaymentTypeCommission] != 1 {
		t.Errorf("counts by type wrong: %v", stats.CountsByType)
	}
}
