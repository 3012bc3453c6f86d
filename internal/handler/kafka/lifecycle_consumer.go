package kafka

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"escrow/internal/app/escrow"
	"escrow/internal/domain"
	"escrow/internal/domain/event"
	kafka_infra "escrow/internal/infrastructure/kafka"
	"escrow/internal/repository/inbox_repo"
	"escrow/internal/util"
)

// LifecycleMessageHandler consumes order/commission lifecycle events.
// The inbox table deduplicates redelivered offsets, and every transition
// uses the event ID as its idempotency token, so a replay can never apply
// twice even if the inbox write is lost.
func LifecycleMessageHandler(
	db *sql.DB,
	inboxRepo inbox_repo.InboxRepository,
	service escrow.EscrowService,
	consumerGroup string,
	logger *zap.Logger,
) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var envelope event.Envelope
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			// A malformed message will never parse; commit and move on.
			logger.Error("Failed to unmarshal lifecycle event envelope, skipping",
				zap.ByteString("value", msg.Value),
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}

		eventID := envelope.EventID
		if eventID == "" {
			eventID = util.GenerateUUID()
		}

		inboxMsg := &domain.InboxMessage{
			ID:             eventID,
			KafkaTopic:     msg.Topic,
			KafkaPartition: msg.Partition,
			KafkaOffset:    msg.Offset,
			ConsumerGroup:  consumerGroup,
			Payload:        msg.Value,
			Status:         domain.InboxStatusNew,
			ReceivedAt:     time.Now(),
		}
		if err := inboxRepo.CreateMessage(ctx, db, inboxMsg); err != nil {
			if errors.Is(err, inbox_repo.ErrMessageAlreadyProcessed) {
				logger.Info("Lifecycle event already recorded, skipping",
					zap.String("event_id", eventID),
					zap.String("event_type", envelope.EventType))
				return nil
			}
			return fmt.Errorf("failed to record incoming event %s: %w", eventID, err)
		}

		if err := dispatch(ctx, service, envelope, eventID, msg.Value, logger); err != nil {
			if updateErr := inboxRepo.UpdateStatus(ctx, db, eventID, domain.InboxStatusFailed); updateErr != nil {
				logger.Error("Failed to mark inbox message as failed",
					zap.String("event_id", eventID), zap.Error(updateErr))
			}
			if isPermanentRejection(err) {
				// The ledger will reject this event on every redelivery
				// (e.g. a stray delivery confirmation after a refund), so
				// retrying cannot help. Commit and move on.
				logger.Warn("Lifecycle event rejected by the ledger, skipping",
					zap.String("event_id", eventID),
					zap.String("event_type", envelope.EventType),
					zap.Error(err))
				return nil
			}
			return fmt.Errorf("failed to process event %s (%s): %w", eventID, envelope.EventType, err)
		}

		if err := inboxRepo.UpdateStatus(ctx, db, eventID, domain.InboxStatusProcessed); err != nil {
			logger.Error("Failed to mark inbox message as processed",
				zap.String("event_id", eventID), zap.Error(err))
		}
		return nil
	}
}

// isPermanentRejection reports whether the ledger turned the event down for
// a reason no redelivery can change. ErrNotFound is deliberately absent:
// events can arrive ahead of the payment they reference, so a missing
// payment is retried.
func isPermanentRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrInvalidAmount) ||
		errors.Is(err, domain.ErrInvalidRate) ||
		errors.Is(err, domain.ErrReasonRequired) ||
		errors.Is(err, domain.ErrValidation)
}

func dispatch(ctx context.Context, service escrow.EscrowService, envelope event.Envelope, eventID string, payload []byte, logger *zap.Logger) error {
	switch envelope.EventType {
	case event.TypePaymentInitiated:
		var e event.PaymentInitiatedEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", envelope.EventType, err)
		}
		_, err := service.CreatePayment(ctx, escrow.CreatePaymentRequest{
			PaymentType:    domain.PaymentType(e.PaymentType),
			TransactionRef: e.TransactionRef,
			BuyerRef:       e.BuyerRef,
			PayeeRef:       e.PayeeRef,
			GrossAmount:    e.GrossAmount,
			Currency:       e.Currency,
			CommissionBps:  e.CommissionBps,
			Description:    e.Description,
		})
		if errors.Is(err, domain.ErrDuplicatePayment) {
			logger.Info("Payment already exists for transaction, nothing to do",
				zap.String("transaction_ref", e.TransactionRef))
			return nil
		}
		return err

	case event.TypePaymentCaptured:
		var e event.PaymentCapturedEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", envelope.EventType, err)
		}
		_, err := service.CapturePayment(ctx, e.PaymentID, eventID)
		return err

	case event.TypeDeliveryConfirmed:
		var e event.DeliveryConfirmedEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", envelope.EventType, err)
		}
		actor := domain.Actor{Ref: "delivery-confirmation", Role: domain.RoleSystem}
		_, err := service.ReleaseEscrow(ctx, e.PaymentID, actor, eventID)
		return err

	default:
		logger.Warn("Unknown lifecycle event type, skipping",
			zap.String("event_type", envelope.EventType),
			zap.String("event_id", eventID))
		return nil
	}
}
