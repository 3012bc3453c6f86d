package outbox_repo

import (
	"context"

	"escrow/internal/domain"
)

// OutboxRepository stores notifications awaiting dispatch. Rows are created
// inside the ledger transition transaction (see ledger_repo); this
// interface covers the dispatcher side.
type OutboxRepository interface {
	// GetPendingMessages returns up to limit pending rows, oldest first.
	// Rows are only marked after the broker acknowledged the publish, so
	// delivery is at-least-once: a crash between publish and mark, or a
	// second dispatcher instance, may re-publish a row.
	GetPendingMessages(ctx context.Context, limit int) ([]domain.OutboxMessage, error)

	// MarkMessagesAsSent finalizes successfully dispatched rows.
	MarkMessagesAsSent(ctx context.Context, ids []string) error

	// MarkMessagesForRetry bumps the attempt counter and leaves the rows
	// pending so the next poll retries them.
	MarkMessagesForRetry(ctx context.Context, ids []string) error

	// MarkMessagesAsFailed parks rows that exhausted their attempts.
	MarkMessagesAsFailed(ctx context.Context, ids []string) error
}
