package inbox_repo

import (
	"context"
	"fmt"

	"escrow/internal/domain"
)

var ErrMessageAlreadyProcessed = fmt.Errorf("inbox message already processed")

// InboxRepository deduplicates consumed Kafka messages so a redelivered
// offset is handled exactly once.
type InboxRepository interface {
	// CreateMessage records a newly received message. A redelivery of a
	// (topic, partition, offset, group) whose earlier attempt completed
	// returns ErrMessageAlreadyProcessed; rows left NEW or FAILED are
	// re-claimed so the retry can proceed.
	CreateMessage(ctx context.Context, querier domain.Querier, msg *domain.InboxMessage) error

	UpdateStatus(ctx context.Context, querier domain.Querier, id string, status domain.InboxMessageStatus) error
}
