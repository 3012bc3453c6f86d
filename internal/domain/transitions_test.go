package domain

import (
	"errors"
	"testing"
	"time"
)

var allStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusEscrow,
	PaymentStatusPaid,
	PaymentStatusRefunded,
	PaymentStatusDisputed,
}

func escrowPayment(status PaymentStatus) *Payment {
	now := time.Now()
	return &Payment{
		ID:             "pay-1",
		PaymentType:    PaymentTypeOrder,
		TransactionRef: "order-1",
		BuyerRef:       "buyer-1",
		PayeeRef:       "artist-1",
		GrossAmount:    5000,
		Currency:       "USD",
		CommissionBps:  1500,
		PlatformFee:    750,
		PayeeAmount:    4250,
		Status:         status,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestTransitionEdgeTable(t *testing.T) {
	allowed := map[PaymentStatus][]PaymentStatus{
		PaymentStatusPending:  {PaymentStatusEscrow},
		PaymentStatusEscrow:   {PaymentStatusPaid, PaymentStatusRefunded, PaymentStatusDisputed},
		PaymentStatusDisputed: {PaymentStatusPaid, PaymentStatusRefunded},
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestApplyTransitionClosure(t *testing.T) {
	admin := Actor{Ref: "admin-1", Role: RoleAdmin}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if CanTransition(from, to) {
				continue
			}
			p := escrowPayment(from)
			_, err := p.ApplyTransition(TransitionRequest{
				Token:  "tok",
				Target: to,
				Actor:  admin,
				Reason: "closure check",
			})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("ApplyTransition(%s -> %s) error = %v, want ErrInvalidTransition", from, to, err)
			}
			if p.Status != from {
				t.Errorf("rejected transition %s -> %s mutated status to %s", from, to, p.Status)
			}
			if len(p.AuditTrail) != 0 {
				t.Errorf("rejected transition %s -> %s appended %d audit records", from, to, len(p.AuditTrail))
			}
		}
	}
}

func TestApplyTransitionPrivilege(t *testing.T) {
	buyer := Actor{Ref: "buyer-1", Role: RoleBuyer}
	tests := []struct {
		name   string
		from   PaymentStatus
		to     PaymentStatus
		reason string
	}{
		{"buyer cannot release", PaymentStatusEscrow, PaymentStatusPaid, ""},
		{"buyer cannot refund", PaymentStatusEscrow, PaymentStatusRefunded, "some reason"},
		{"buyer cannot resolve dispute", PaymentStatusDisputed, PaymentStatusPaid, "some reason"},
		{"buyer cannot trigger capture", PaymentStatusPending, PaymentStatusEscrow, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := escrowPayment(tc.from)
			_, err := p.ApplyTransition(TransitionRequest{
				Token: "tok", Target: tc.to, Actor: buyer, Reason: tc.reason,
			})
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
			if p.Status != tc.from || len(p.AuditTrail) != 0 {
				t.Fatalf("rejected transition mutated payment")
			}
		})
	}
}

func TestBuyerCanFileDispute(t *testing.T) {
	p := escrowPayment(PaymentStatusEscrow)
	rec, err := p.ApplyTransition(TransitionRequest{
		Token:  "tok",
		Target: PaymentStatusDisputed,
		Actor:  Actor{Ref: "buyer-1", Role: RoleBuyer},
		Reason: "item not as described",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != PaymentStatusDisputed {
		t.Fatalf("expected DISPUTED, got %s", p.Status)
	}
	if rec.Reason != "item not as described" {
		t.Fatalf("reason not carried into audit record: %q", rec.Reason)
	}
}

func TestDisputeRequiresReason(t *testing.T) {
	p := escrowPayment(PaymentStatusEscrow)
	_, err := p.ApplyTransition(TransitionRequest{
		Token:  "tok",
		Target: PaymentStatusDisputed,
		Actor:  Actor{Ref: "buyer-1", Role: RoleBuyer},
	})
	if !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
}

func TestRefundDefaultsToFullGross(t *testing.T) {
	p := escrowPayment(PaymentStatusEscrow)
	_, err := p.ApplyTransition(TransitionRequest{
		Token:  "tok",
		Target: PaymentStatusRefunded,
		Actor:  Actor{Ref: "admin-1", Role: RoleAdmin},
		Reason: "order cancelled",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.RefundedAmount == nil || *p.RefundedAmount != 5000 {
		t.Fatalf("expected refundedAmount 5000, got %v", p.RefundedAmount)
	}
}

func TestPartialRefundBounds(t *testing.T) {
	admin := Actor{Ref: "admin-1", Role: RoleAdmin}

	for _, amount := range []int64{0, -100, 5001} {
		p := escrowPayment(PaymentStatusEscrow)
		a := amount
		_, err := p.ApplyTransition(TransitionRequest{
			Token:        "tok",
			Target:       PaymentStatusRefunded,
			Actor:        admin,
			Reason:       "bad amount",
			RefundAmount: &a,
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("refund amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}

	p := escrowPayment(PaymentStatusEscrow)
	partial := int64(3000)
	_, err := p.ApplyTransition(TransitionRequest{
		Token:        "tok",
		Target:       PaymentStatusRefunded,
		Actor:        admin,
		Reason:       "partial refund",
		RefundAmount: &partial,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.RefundedAmount == nil || *p.RefundedAmount != 3000 {
		t.Fatalf("expected refundedAmount 3000, got %v", p.RefundedAmount)
	}
}

func TestRefundAmountRejectedOnRelease(t *testing.T) {
	p := escrowPayment(PaymentStatusEscrow)
	amount := int64(1000)
	_, err := p.ApplyTransition(TransitionRequest{
		Token:        "tok",
		Target:       PaymentStatusPaid,
		Actor:        Actor{Ref: "admin-1", Role: RoleAdmin},
		RefundAmount: &amount,
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestAcceptedTransitionBumpsVersionAndTrail(t *testing.T) {
	p := escrowPayment(PaymentStatusPending)
	system := Actor{Ref: "payment-pipeline", Role: RoleSystem}

	rec, err := p.ApplyTransition(TransitionRequest{Token: "t1", Target: PaymentStatusEscrow, Actor: system})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if p.Version != 2 {
		t.Fatalf("expected version 2, got %d", p.Version)
	}
	if len(p.AuditTrail) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(p.AuditTrail))
	}
	if rec.FromStatus != PaymentStatusPending || rec.ToStatus != PaymentStatusEscrow {
		t.Fatalf("audit record edge wrong: %s -> %s", rec.FromStatus, rec.ToStatus)
	}
	if !p.UpdatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("UpdatedAt should match the transition time")
	}
}
