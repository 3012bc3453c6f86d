package domain

import (
	"fmt"
	"time"
)

// transitionEdges is the complete edge table of the payment state machine.
// Any (from, to) pair not listed here is an invalid transition.
var transitionEdges = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:  {PaymentStatusEscrow},
	PaymentStatusEscrow:   {PaymentStatusPaid, PaymentStatusRefunded, PaymentStatusDisputed},
	PaymentStatusDisputed: {PaymentStatusPaid, PaymentStatusRefunded},
}

func CanTransition(from, to PaymentStatus) bool {
	for _, next := range transitionEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// privilegedTargets require an admin or system actor: releasing funds,
// refunding, and resolving disputes are never buyer/seller-initiated.
func transitionRequiresPrivilege(from, to PaymentStatus) bool {
	switch {
	case to == PaymentStatusPaid, to == PaymentStatusRefunded:
		return true
	case from == PaymentStatusPending && to == PaymentStatusEscrow:
		// Capture confirmation comes from the payment pipeline, not a user.
		return true
	}
	return false
}

// transitionRequiresReason lists edges whose audit record must carry a
// non-empty reason.
func transitionRequiresReason(from, to PaymentStatus) bool {
	if to == PaymentStatusDisputed {
		return true
	}
	if to == PaymentStatusRefunded {
		return true
	}
	if from == PaymentStatusDisputed {
		return true
	}
	return false
}

// TransitionRequest describes one logical transition attempt. Token is the
// caller's idempotency token; RefundAmount applies only to transitions into
// Refunded and defaults to the full gross amount when nil.
type TransitionRequest struct {
	Token        string
	Target       PaymentStatus
	Actor        Actor
	Reason       string
	RefundAmount *int64
	Now          time.Time
}

// ApplyTransition validates the requested edge against the state machine,
// actor privilege and refund bounds, then mutates the in-memory payment
// (status, UpdatedAt, RefundedAmount, Version) and returns the audit record
// to be persisted atomically with it. The payment is not modified when an
// error is returned.
func (p *Payment) ApplyTransition(req TransitionRequest) (*AuditRecord, error) {
	if !CanTransition(p.Status, req.Target) {
		return nil, fmt.Errorf("cannot move payment %s from %s to %s: %w",
			p.ID, p.Status, req.Target, ErrInvalidTransition)
	}
	if transitionRequiresPrivilege(p.Status, req.Target) && !req.Actor.Privileged() {
		return nil, fmt.Errorf("actor %s (%s) cannot move payment %s to %s: %w",
			req.Actor.Ref, req.Actor.Role, p.ID, req.Target, ErrUnauthorized)
	}
	if transitionRequiresReason(p.Status, req.Target) && req.Reason == "" {
		return nil, fmt.Errorf("transition of payment %s to %s: %w",
			p.ID, req.Target, ErrReasonRequired)
	}

	var refunded *int64
	if req.Target == PaymentStatusRefunded {
		amount := p.GrossAmount
		if req.RefundAmount != nil {
			amount = *req.RefundAmount
		}
		if amount <= 0 || amount > p.GrossAmount {
			return nil, fmt.Errorf("refund of %d on gross %d for payment %s: %w",
				amount, p.GrossAmount, p.ID, ErrInvalidAmount)
		}
		refunded = &amount
	} else if req.RefundAmount != nil {
		return nil, fmt.Errorf("refund amount supplied for transition to %s: %w",
			req.Target, ErrInvalidAmount)
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	record := &AuditRecord{
		PaymentID:  p.ID,
		Token:      req.Token,
		FromStatus: p.Status,
		ToStatus:   req.Target,
		ActorRef:   req.Actor.Ref,
		ActorRole:  req.Actor.Role,
		Reason:     req.Reason,
		CreatedAt:  now,
	}

	p.Status = req.Target
	p.RefundedAmount = refunded
	p.UpdatedAt = now
	p.Version++
	p.AuditTrail = append(p.AuditTrail, *record)

	return record, nil
}
