// Package events publishes ExchangeIngested notifications for async
// consumers once C5's DURABLE-WRITE step has committed an exchange.
// Grounded directly on
// intelligencedev-manifold/internal/workspaces/kafka_events.go's
// KafkaCommitPublisher: a disabled-config nil publisher, one
// *kafka.Writer, and a best-effort Publish that never blocks ingest on
// a broker outage.
package events

import (
	"context"
	"encoding/json"
	"time"

	"cogstream/internal/config"
	"cogstream/internal/domain"
	"cogstream/internal/observability"

	"github.com/segmentio/kafka-go"
)

// ExchangeIngestedEvent is the wire payload published after an exchange
// completes its ingest pipeline and durable write.
type ExchangeIngestedEvent struct {
	ExchangeID string    `json:"exchange_id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id,omitempty"`
	TenantID   string    `json:"tenant_id,omitempty"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
}

// KafkaPublisher publishes ExchangeIngested events. Satisfies
// ingest.EventPublisher.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher when enabled, matching the
// teacher's nil-when-disabled construction so callers can always hold a
// *KafkaPublisher and call Publish unconditionally.
func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaPublisher{writer: writer}, nil
}

// PublishExchangeIngested writes the event to Kafka. A nil receiver or
// writer is a no-op success, so construction sites never need to branch
// on whether Kafka is enabled.
func (p *KafkaPublisher) PublishExchangeIngested(ctx context.Context, ex domain.Exchange) error {
	if p == nil || p.writer == nil {
		return nil
	}
	ev := ExchangeIngestedEvent{
		ExchangeID: ex.ID,
		SessionID:  ex.SessionID,
		UserID:     ex.UserID,
		TenantID:   ex.TenantID,
		Partial:    ex.Partial,
		Timestamp:  time.Now(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(ex.SessionID), Value: payload, Time: ev.Timestamp}
	return p.writer.WriteMessages(ctx, msg)
}

// Close shuts the writer down. Safe on a nil or disabled publisher.
func (p *KafkaPublisher) Close() {
	if p == nil || p.writer == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		observability.LoggerWithTrace(context.Background()).Warn().Err(err).Msg("events_kafka_writer_close_failed")
	}
}
