package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"escrow/internal/domain"
	"escrow/internal/repository/inbox_repo"
)

type InboxRepository struct {
	db *sql.DB
}

func NewInboxRepository(db *sql.DB) *InboxRepository {
	return &InboxRepository{db: db}
}

func (r *InboxRepository) CreateMessage(ctx context.Context, querier domain.Querier, msg *domain.InboxMessage) error {
	// A redelivered offset re-claims its row unless a prior delivery already
	// processed it: rows left NEW (crash mid-handling) or FAILED (transient
	// dispatch error) must not block the retry.
	query := `
		INSERT INTO inbox_messages (id, kafka_topic, kafka_partition, kafka_offset, consumer_group, payload, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (kafka_topic, kafka_partition, kafka_offset, consumer_group)
		DO UPDATE SET id = EXCLUDED.id, status = EXCLUDED.status, received_at = EXCLUDED.received_at
		WHERE inbox_messages.status <> $9
	`
	res, err := querier.ExecContext(ctx, query,
		msg.ID,
		msg.KafkaTopic,
		msg.KafkaPartition,
		msg.KafkaOffset,
		msg.ConsumerGroup,
		msg.Payload,
		msg.Status,
		msg.ReceivedAt,
		domain.InboxStatusProcessed,
	)
	if err != nil {
		return fmt.Errorf("failed to create inbox message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for inbox insert: %w", err)
	}
	if affected == 0 {
		return inbox_repo.ErrMessageAlreadyProcessed
	}
	return nil
}

func (r *InboxRepository) UpdateStatus(ctx context.Context, querier domain.Querier, id string, status domain.InboxMessageStatus) error {
	query := `
		UPDATE inbox_messages
		SET status = $1, processed_at = $2
		WHERE id = $3
	`
	res, err := querier.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update inbox message %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for inbox update: %w", err)
	}
	if affected == 0 {
		return errors.New("inbox message not found for status update")
	}
	return nil
}
