package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"escrow/internal/domain"
	kafka_infra "escrow/internal/infrastructure/kafka"
	"escrow/internal/repository/outbox_repo"
)

const pollBatchSize = 50

// Processor drains the notification outbox: rows enqueued by ledger
// transitions are published to the notification topic and marked sent.
// Publish failures never touch the ledger; the row stays pending until the
// attempt budget is spent, then it is parked as FAILED.
type Processor struct {
	outboxRepo   outbox_repo.OutboxRepository
	producer     kafka_infra.Producer
	topic        string
	pollInterval time.Duration
	pollTimeout  time.Duration
	maxAttempts  int
	logger       *zap.Logger
}

func NewProcessor(
	outboxRepo outbox_repo.OutboxRepository,
	producer kafka_infra.Producer,
	topic string,
	pollInterval time.Duration,
	pollTimeout time.Duration,
	maxAttempts int,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		outboxRepo:   outboxRepo,
		producer:     producer,
		topic:        topic,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		maxAttempts:  maxAttempts,
		logger:       logger,
	}
}

// Start polls until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Starting notification outbox processor",
		zap.Duration("poll_interval", p.pollInterval))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Notification outbox processor stopping")
			return
		case <-ticker.C:
			p.dispatchPending(ctx)
		}
	}
}

func (p *Processor) dispatchPending(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()

	messages, err := p.outboxRepo.GetPendingMessages(queryCtx, pollBatchSize)
	if err != nil {
		p.logger.Error("Failed to get pending notifications", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	p.logger.Debug("Dispatching pending notifications", zap.Int("count", len(messages)))

	var sent, retry, failed []string
	for _, msg := range messages {
		if err := p.producer.Produce(ctx, msg.PaymentID, p.topic, msg.Payload); err != nil {
			p.logger.Warn("Failed to publish notification, will retry",
				zap.String("message_id", msg.ID),
				zap.String("payment_id", msg.PaymentID),
				zap.String("event_type", string(msg.EventType)),
				zap.Int("attempts", msg.Attempts+1),
				zap.Error(err))
			if msg.Attempts+1 >= p.maxAttempts {
				failed = append(failed, msg.ID)
			} else {
				retry = append(retry, msg.ID)
			}
			continue
		}
		sent = append(sent, msg.ID)
	}

	if err := p.outboxRepo.MarkMessagesAsSent(ctx, sent); err != nil {
		p.logger.Error("Failed to mark notifications as sent", zap.Error(err))
	}
	if err := p.outboxRepo.MarkMessagesForRetry(ctx, retry); err != nil {
		p.logger.Error("Failed to requeue notifications", zap.Error(err))
	}
	if err := p.outboxRepo.MarkMessagesAsFailed(ctx, failed); err != nil {
		p.logger.Error("Failed to park exhausted notifications", zap.Error(err))
	}
	if len(failed) > 0 {
		p.logger.Error("Notifications exhausted their retry budget",
			zap.Strings("message_ids", failed))
	}
}
