package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"escrow/internal/domain"
	"escrow/internal/repository/ledger_repo"
)

// uniqueViolation is the Postgres error code raised by the partial unique
// index guarding one non-terminal payment per transaction, and by the
// unique transition token index.
const uniqueViolation = "23505"

type LedgerRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewLedgerRepository(db *sql.DB, logger *zap.Logger) *LedgerRepository {
	return &LedgerRepository{db: db, logger: logger}
}

const paymentColumns = `id, payment_type, transaction_ref, buyer_ref, payee_ref,
	gross_amount, currency, commission_bps, platform_fee, payee_amount,
	status, refunded_amount, description, version, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*domain.Payment, error) {
	p := &domain.Payment{}
	var refunded sql.NullInt64
	err := row.Scan(
		&p.ID,
		&p.PaymentType,
		&p.TransactionRef,
		&p.BuyerRef,
		&p.PayeeRef,
		&p.GrossAmount,
		&p.Currency,
		&p.CommissionBps,
		&p.PlatformFee,
		&p.PayeeAmount,
		&p.Status,
		&refunded,
		&p.Description,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if refunded.Valid {
		p.RefundedAmount = &refunded.Int64
	}
	return p, nil
}

func (r *LedgerRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.PaymentType,
		payment.TransactionRef,
		payment.BuyerRef,
		payment.PayeeRef,
		payment.GrossAmount,
		payment.Currency,
		payment.CommissionBps,
		payment.PlatformFee,
		payment.PayeeAmount,
		payment.Status,
		nullInt64(payment.RefundedAmount),
		payment.Description,
		payment.Version,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment %s: %w", id, err)
	}

	trail, err := r.auditTrail(ctx, id)
	if err != nil {
		return nil, err
	}
	payment.AuditTrail = trail
	return payment, nil
}

func (r *LedgerRepository) GetByTransactionRef(ctx context.Context, paymentType domain.PaymentType, transactionRef string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE payment_type = $1 AND transaction_ref = $2 AND status NOT IN ($3, $4)
	`
	payment, err := scanPayment(r.db.QueryRowContext(ctx, query,
		paymentType, transactionRef, domain.PaymentStatusPaid, domain.PaymentStatusRefunded))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment for %s %s: %w", paymentType, transactionRef, err)
	}
	return payment, nil
}

func (r *LedgerRepository) ApplyTransition(ctx context.Context, payment *domain.Payment, expectedVersion int64, record *domain.AuditRecord, notifications []*domain.OutboxMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transition transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := r.applyTransitionTx(ctx, tx, payment, expectedVersion, record, notifications); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Failed to roll back transition transaction",
				zap.String("payment_id", payment.ID), zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition for payment %s: %w", payment.ID, err)
	}
	return nil
}

func (r *LedgerRepository) applyTransitionTx(ctx context.Context, tx *sql.Tx, payment *domain.Payment, expectedVersion int64, record *domain.AuditRecord, notifications []*domain.OutboxMessage) error {
	updateQuery := `
		UPDATE payments
		SET status = $1, refunded_amount = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6
	`
	res, err := tx.ExecContext(ctx, updateQuery,
		payment.Status,
		nullInt64(payment.RefundedAmount),
		payment.Version,
		payment.UpdatedAt,
		payment.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", payment.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for payment %s: %w", payment.ID, err)
	}
	if affected == 0 {
		// Either the row vanished or another transition won the version race.
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, payment.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check payment %s existence: %w", payment.ID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConcurrentModification
	}

	auditQuery := `
		INSERT INTO audit_records (id, payment_id, token, from_status, to_status, actor_ref, actor_role, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.ExecContext(ctx, auditQuery,
		record.ID,
		record.PaymentID,
		record.Token,
		record.FromStatus,
		record.ToStatus,
		record.ActorRef,
		record.ActorRole,
		record.Reason,
		record.CreatedAt,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// The same transition token was already applied by a racing
			// replay of this logical request.
			return domain.ErrConcurrentModification
		}
		return fmt.Errorf("failed to append audit record for payment %s: %w", payment.ID, err)
	}

	outboxQuery := `
		INSERT INTO outbox_messages (id, payment_id, recipient_ref, event_type, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, msg := range notifications {
		if _, err := tx.ExecContext(ctx, outboxQuery,
			msg.ID,
			msg.PaymentID,
			msg.RecipientRef,
			msg.EventType,
			msg.Payload,
			msg.Status,
			msg.Attempts,
			msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to enqueue notification for payment %s: %w", payment.ID, err)
		}
	}

	return nil
}

func (r *LedgerRepository) List(ctx context.Context, filter ledger_repo.ListFilter) ([]*domain.Payment, int64, error) {
	var conditions []string
	var args []any

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.PaymentType != nil {
		args = append(args, *filter.PaymentType)
		conditions = append(conditions, fmt.Sprintf("payment_type = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM payments` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.Size
	if size < 1 {
		size = 20
	}
	args = append(args, size, (page-1)*size)
	listQuery := fmt.Sprintf(`
		SELECT `+paymentColumns+`
		FROM payments%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	payments, err := r.queryPayments(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *LedgerRepository) Search(ctx context.Context, query string, limit int) ([]*domain.Payment, error) {
	if limit < 1 {
		limit = 50
	}
	pattern := "%" + query + "%"
	searchQuery := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE buyer_ref ILIKE $1 OR payee_ref ILIKE $1 OR description ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryPayments(ctx, searchQuery, pattern, limit)
}

func (r *LedgerRepository) Statistics(ctx context.Context) (*domain.LedgerStatistics, error) {
	query := `
		SELECT status, payment_type, COUNT(*), COALESCE(SUM(gross_amount), 0), COALESCE(SUM(refunded_amount), 0)
		FROM payments
		GROUP BY status, payment_type
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ledger statistics: %w", err)
	}
	defer rows.Close()

	stats := &domain.LedgerStatistics{
		CountsByStatus: make(map[domain.PaymentStatus]int64),
		CountsByType:   make(map[domain.PaymentType]int64),
	}
	for rows.Next() {
		var status domain.PaymentStatus
		var paymentType domain.PaymentType
		var count, gross, refunded int64
		if err := rows.Scan(&status, &paymentType, &count, &gross, &refunded); err != nil {
			return nil, fmt.Errorf("failed to scan statistics row: %w", err)
		}
		stats.TotalGrossAmount += gross
		stats.CountsByStatus[status] += count
		stats.CountsByType[paymentType] += count
		switch status {
		case domain.PaymentStatusEscrow, domain.PaymentStatusDisputed:
			stats.EscrowAmount += gross
		case domain.PaymentStatusPaid:
			stats.PaidAmount += gross
		case domain.PaymentStatusRefunded:
			stats.RefundedAmount += refunded
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating statistics rows: %w", err)
	}
	return stats, nil
}

func (r *LedgerRepository) queryPayments(ctx context.Context, query string, args ...any) ([]*domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment rows: %w", err)
	}
	return payments, nil
}

func (r *LedgerRepository) auditTrail(ctx context.Context, paymentID string) ([]domain.AuditRecord, error) {
	query := `
		SELECT id, payment_id, token, from_status, to_status, actor_ref, actor_role, reason, created_at
		FROM audit_records
		WHERE payment_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail for payment %s: %w", paymentID, err)
	}
	defer rows.Close()

	var trail []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.PaymentID,
			&rec.Token,
			&rec.FromStatus,
			&rec.ToStatus,
			&rec.ActorRef,
			&rec.ActorRole,
			&rec.Reason,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		trail = append(trail, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	return trail, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
