package main

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	"github.com/lmdrive/drive-backend/pkg/metrics"
	"github.com/lmdrive/drive-backend/pkg/outbox/registry"
)

// relayRow publishes one row and records the result on it. The returned
// string is one of the metrics.Outbox* results.
func (r *Relay) relayRow(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (string, error) {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}

	resolved, err := r.resolver.Resolve(row)
	if err != nil {
		return metrics.OutboxDeadLettered, r.park(r.logg.WithFields(ctx, fields), tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	fields["topic"] = resolved.Route.Topic
	fields["event_id"] = resolved.Envelope.EventID
	ctx = r.logg.WithFields(ctx, fields)

	sendErr := r.send(ctx, row, resolved)
	switch {
	case sendErr == nil:
		if err := r.source.MarkPublished(tx, row.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.logg.Info(ctx, "outbox event published")
		return metrics.OutboxPublished, nil
	case registry.IsPermanent(sendErr):
		return metrics.OutboxDeadLettered, r.park(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, sendErr)
	case row.AttemptCount+1 >= r.maxAttempts:
		cause := fmt.Errorf("giving up after %d attempts: %w", row.AttemptCount+1, sendErr)
		return metrics.OutboxDeadLettered, r.park(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, cause)
	}

	r.logg.Warn(r.logg.WithField(ctx, "error", sendErr.Error()), "outbox publish failed, will retry")
	if err := r.source.RecordFailure(tx, row.ID, sendErr); err != nil {
		return "", fmt.Errorf("mark failed %s: %w", row.ID, err)
	}
	return metrics.OutboxRetried, nil
}

// park moves a row into outbox_dlq and retires it from the publish queue.
func (r *Relay) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        msg,
	}), "outbox event dead-lettered")

	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.deadLetters.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.source.Park(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

func (r *Relay) send(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Route.Topic
	pub := r.topics.get(topic)
	if pub == nil {
		return registry.Permanent(fmt.Errorf("no publisher for topic %q", topic))
	}

	msg := orderedMessage(row, resolved.Envelope.EventID)
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	result := pub.Publish(ctx, msg)
	if result == nil {
		return registry.Permanent(fmt.Errorf("publisher for topic %q returned no result", topic))
	}
	if _, err := result.Get(ctx); err != nil {
		// Ordered publishing pauses the key after an error until resumed.
		pub.ResumePublish(msg.OrderingKey)
		return err
	}
	return nil
}

// orderedMessage keys the message by aggregate so subscribers see one order's
// events in commit order.
func orderedMessage(row models.OutboxEvent, eventID string) *gcppubsub.Message {
	key := row.AggregateID.String()
	return &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_id":       eventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   key,
			"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}
