package payments_http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"escrow/internal/app/escrow"
	"escrow/internal/domain"
	"escrow/internal/repository/ledger_repo"
)

// Actor identity headers are stamped by the fronting gateway; the engine
// assumes callers are authenticated and only enforces authorization.
const (
	headerActorRef       = "X-Actor-Ref"
	headerActorRole      = "X-Actor-Role"
	headerIdempotencyKey = "X-Idempotency-Key"
)

type PaymentHandler struct {
	service escrow.EscrowService
	logger  *zap.Logger
}

func NewPaymentHandler(s escrow.EscrowService, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, logger: l}
}

type CreatePaymentRequest struct {
	PaymentType    string `json:"payment_type"`
	TransactionRef string `json:"transaction_ref"`
	BuyerRef       string `json:"buyer_ref"`
	PayeeRef       string `json:"payee_ref"`
	GrossAmount    int64  `json:"gross_amount"`
	Currency       string `json:"currency"`
	CommissionBps  int64  `json:"commission_bps"`
	Description    string `json:"description"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	Amount *int64 `json:"amount,omitempty"`
}

type AuditRecordResponse struct {
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorRef   string `json:"actor_ref"`
	ActorRole  string `json:"actor_role"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type PaymentResponse struct {
	ID             string                `json:"id"`
	PaymentType    string                `json:"payment_type"`
	TransactionRef string                `json:"transaction_ref"`
	BuyerRef       string                `json:"buyer_ref"`
	PayeeRef       string                `json:"payee_ref"`
	GrossAmount    int64                 `json:"gross_amount"`
	Currency       string                `json:"currency"`
	CommissionBps  int64                 `json:"commission_bps"`
	PlatformFee    int64                 `json:"platform_fee"`
	PayeeAmount    int64                 `json:"payee_amount"`
	Status         string                `json:"status"`
	RefundedAmount *int64                `json:"refunded_amount,omitempty"`
	Description    string                `json:"description,omitempty"`
	CreatedAt      string                `json:"created_at"`
	UpdatedAt      string                `json:"updated_at"`
	AuditTrail     []AuditRecordResponse `json:"audit_trail,omitempty"`
}

type PaymentListResponse struct {
	Items []PaymentResponse `json:"items"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Size  int               `json:"size"`
}

type StatisticsResponse struct {
	TotalGrossAmount int64            `json:"total_gross_amount"`
	EscrowAmount     int64            `json:"escrow_amount"`
	PaidAmount       int64            `json:"paid_amount"`
	RefundedAmount   int64            `json:"refunded_amount"`
	CountsByStatus   map[string]int64 `json:"counts_by_status"`
	CountsByType     map[string]int64 `json:"counts_by_type"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func mapPayment(p *domain.Payment, includeTrail bool) PaymentResponse {
	resp := PaymentResponse{
		ID:             p.ID,
		PaymentType:    string(p.PaymentType),
		TransactionRef: p.TransactionRef,
		BuyerRef:       p.BuyerRef,
		PayeeRef:       p.PayeeRef,
		GrossAmount:    p.GrossAmount,
		Currency:       p.Currency,
		CommissionBps:  p.CommissionBps,
		PlatformFee:    p.PlatformFee,
		PayeeAmount:    p.PayeeAmount,
		Status:         string(p.Status),
		RefundedAmount: p.RefundedAmount,
		Description:    p.Description,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      p.UpdatedAt.Format(time.RFC3339),
	}
	if includeTrail {
		for _, rec := range p.AuditTrail {
			resp.AuditTrail = append(resp.AuditTrail, AuditRecordResponse{
				FromStatus: string(rec.FromStatus),
				ToStatus:   string(rec.ToStatus),
				ActorRef:   rec.ActorRef,
				ActorRole:  string(rec.ActorRole),
				Reason:     rec.Reason,
				CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
			})
		}
	}
	return resp
}

func (h *PaymentHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *PaymentHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrDuplicatePayment):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidRate),
		errors.Is(err, domain.ErrReasonRequired),
		errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Internal error handling request", zap.Error(err))
		message = "internal server error"
	}
	h.writeJSON(w, status, errorResponse{Error: domain.ErrorKind(err), Message: message})
}

func (h *PaymentHandler) actor(r *http.Request) (domain.Actor, bool) {
	ref := r.Header.Get(headerActorRef)
	role, ok := domain.ParseActorRole(r.Header.Get(headerActorRole))
	if ref == "" || !ok {
		return domain.Actor{}, false
	}
	return domain.Actor{Ref: ref, Role: role}, true
}

func (h *PaymentHandler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "invalid request body"})
		return
	}

	payment, err := h.service.CreatePayment(r.Context(), escrow.CreatePaymentRequest{
		PaymentType:    domain.PaymentType(req.PaymentType),
		TransactionRef: req.TransactionRef,
		BuyerRef:       req.BuyerRef,
		PayeeRef:       req.PayeeRef,
		GrossAmount:    req.GrossAmount,
		Currency:       req.Currency,
		CommissionBps:  req.CommissionBps,
		Description:    req.Description,
	})
	if errors.Is(err, domain.ErrDuplicatePayment) && payment != nil {
		// Creation is idempotent per transaction: hand back the live payment.
		h.writeJSON(w, http.StatusOK, mapPayment(payment, false))
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, mapPayment(payment, false))
}

func (h *PaymentHandler) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	filter := ledger_repo.ListFilter{}

	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := domain.ParsePaymentStatus(s)
		if !ok {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "unknown status filter"})
			return
		}
		filter.Status = &status
	}
	if s := r.URL.Query().Get("paymentType"); s != "" {
		paymentType, ok := domain.ParsePaymentType(s)
		if !ok {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "unknown paymentType filter"})
			return
		}
		filter.PaymentType = &paymentType
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.Size, _ = strconv.Atoi(r.URL.Query().Get("size"))
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Size < 1 {
		filter.Size = 20
	}

	payments, total, err := h.service.ListPayments(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := PaymentListResponse{
		Items: make([]PaymentResponse, 0, len(payments)),
		Total: total,
		Page:  filter.Page,
		Size:  filter.Size,
	}
	for _, p := range payments {
		resp.Items = append(resp.Items, mapPayment(p, false))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *PaymentHandler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, mapPayment(payment, true))
}

func (h *PaymentHandler) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	actor, ok := h.actor(r)
	if !ok {
		h.writeJSON(w, http.StatusForbidden, errorResponse{
			Error:   "unauthorized",
			Message: "actor identity headers are required",
		})
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "invalid request body"})
		return
	}
	target, ok := domain.ParsePaymentStatus(req.Status)
	if !ok {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "unknown target status"})
		return
	}
	token := r.Header.Get(headerIdempotencyKey)

	current, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var payment *domain.Payment
	switch target {
	case domain.PaymentStatusEscrow:
		if !actor.Privileged() {
			h.writeError(w, domain.ErrUnauthorized)
			return
		}
		payment, err = h.service.CapturePayment(r.Context(), id, token)
	case domain.PaymentStatusPaid:
		if current.Status == domain.PaymentStatusDisputed {
			payment, err = h.service.ResolveDispute(r.Context(), id, actor, escrow.OutcomeRelease, nil, req.Reason, token)
		} else {
			payment, err = h.service.ReleaseEscrow(r.Context(), id, actor, token)
		}
	case domain.PaymentStatusRefunded:
		if current.Status == domain.PaymentStatusDisputed {
			payment, err = h.service.ResolveDispute(r.Context(), id, actor, escrow.OutcomeRefund, req.Amount, req.Reason, token)
		} else {
			payment, err = h.service.Refund(r.Context(), id, actor, req.Amount, req.Reason, token)
		}
	case domain.PaymentStatusDisputed:
		payment, err = h.service.FileDispute(r.Context(), id, actor, req.Reason, token)
	default:
		h.writeError(w, domain.ErrInvalidTransition)
		return
	}

	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, mapPayment(payment, true))
}

func (h *PaymentHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := StatisticsResponse{
		TotalGrossAmount: stats.TotalGrossAmount,
		EscrowAmount:     stats.EscrowAmount,
		PaidAmount:       stats.PaidAmount,
		RefundedAmount:   stats.RefundedAmount,
		CountsByStatus:   make(map[string]int64, len(stats.CountsByStatus)),
		CountsByType:     make(map[string]int64, len(stats.CountsByType)),
	}
	for status, count := range stats.CountsByStatus {
		resp.CountsByStatus[string(status)] = count
	}
	for paymentType, count := range stats.CountsByType {
		resp.CountsByType[string(paymentType)] = count
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *PaymentHandler) SearchPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "query parameter is required"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	payments, err := h.service.SearchPayments(r.Context(), query, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		items = append(items, mapPayment(p, false))
	}
	h.writeJSON(w, http.StatusOK, items)
}
