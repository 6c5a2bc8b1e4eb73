// Package eventbus implements the supplemented Event Bus component
// (SPEC_FULL.md §6.3): every state transition the other components
// produce is published as a domain event and durably replayed into the
// append-only event log an operator can inspect later. Grounded on the
// teacher's internal/database/kafka singleton (auto-topic-creation,
// Writer/Reader construction) and internal/database/kafka/log_publisher.go's
// publish-then-persist shape, generalized from RA-log entries to the
// MCS domain's task/workflow transitions.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/internal/models"
	"github.com/maic-labs/mcs/internal/store"
	"github.com/maic-labs/mcs/pkg/logger"
)

// Kinds of domain event this bus carries (SPEC_FULL.md §6.3).
const (
	EventTaskReady      = "task.ready"
	EventTaskClaimed    = "task.claimed"
	EventTaskCompleted  = "task.completed"
	EventTaskFailed     = "task.failed"
	EventTaskReset      = "task.reset_for_rework"
	EventWorkflowPlanned   = "workflow.planned"
	EventWorkflowCompleted = "workflow.completed"
	EventWorkflowFailed    = "workflow.failed"
	EventAuditRecorded     = "audit.recorded"
)

// DomainEvent is the wire shape published to Kafka and replayed into
// EventLogEntry rows.
type DomainEvent struct {
	WorkflowID string            `json:"workflow_id"`
	TaskStepID string            `json:"task_step_id,omitempty"`
	Kind       string            `json:"kind"`
	Payload    map[string]string `json:"payload,omitempty"`
}

// Bus publishes DomainEvents and, when Run is started, consumes its own
// topic to populate the durable event log.
type Bus struct {
	writer *kafka.Writer
	reader *kafka.Reader
	store  store.Store
	log    *logger.Logger
}

// New dials brokers[0] to ensure the configured topic exists (creating it
// if not, matching the teacher's auto-provisioning behavior) and builds a
// writer/reader pair for it.
func New(cfg config.KafkaConfig, st store.Store) (*Bus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("eventbus: no kafka brokers configured")
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("eventbus: dialing kafka: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("eventbus: reading partitions: %w", err)
	}
	exists := false
	for _, p := range partitions {
		if p.Topic == cfg.Topic {
			exists = true
			break
		}
	}
	if !exists {
		if err := conn.CreateTopics(kafka.TopicConfig{
			Topic:             cfg.Topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}); err != nil {
			return nil, fmt.Errorf("eventbus: creating topic: %w", err)
		}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     "mcs-event-log",
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxAttempts: 10,
		Dialer:      &kafka.Dialer{Timeout: 10 * time.Second},
	})

	return &Bus{writer: writer, reader: reader, store: st, log: logger.New("eventbus", "", "")}, nil
}

// Publish appends event to the topic. Publish failures are logged, not
// propagated: a lost event log entry never justifies failing the task or
// workflow transition that produced it.
func (b *Bus) Publish(ctx context.Context, event DomainEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.WithError(err).Warn("failed to encode domain event")
		return
	}

	err = b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.WorkflowID),
		Value: payload,
	})
	if err != nil {
		b.log.WithError(err).Warn("failed to publish domain event")
	}
}

// Run consumes the topic until ctx is canceled, persisting each event as
// an EventLogEntry. Intended to run in its own goroutine for the
// process's lifetime.
func (b *Bus) Run(ctx context.Context) {
	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.WithError(err).Warn("event bus read failed, retrying")
			continue
		}

		var event DomainEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			b.log.WithError(err).Warn("dropping malformed domain event")
			continue
		}

		entry := &models.EventLogEntry{
			ID:         uuid.NewString(),
			WorkflowID: event.WorkflowID,
			TaskStepID: event.TaskStepID,
			Kind:       event.Kind,
			Payload:    models.StringMap(event.Payload),
			CreatedAt:  time.Now().UTC(),
		}
		if err := b.store.AppendEvent(ctx, entry); err != nil {
			b.log.WithError(err).Warn("failed to persist event log entry")
		}
	}
}

// Close releases the writer and reader.
func (b *Bus) Close() error {
	var firstErr error
	if err := b.writer.Close(); err != nil {
		firstErr = err
	}
	if err := b.reader.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
