package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"loginguard/internal/audit/domain"
)

const kafkaWriteTimeout = 5 * time.Second

// message is the JSON shape written to the audit topic.
type message struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id,omitempty"`
	Action        string    `json:"action"`
	SourceAddress string    `json:"source_address"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes audit events to a topic keyed by account id, so one account's events stay ordered
// within a partition.
type Kafka struct {
	writer messageWriter
}

// NewKafka returns a Kafka sink, or nil when brokers or topic are empty. Call Close on shutdown.
func NewKafka(brokers []string, topic string) *Kafka {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &Kafka{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

// Publish serializes e and writes it. The write is bounded so a slow broker only delays the
// background publisher.
func (k *Kafka) Publish(ctx context.Context, e *domain.AuditEvent) error {
	if k == nil || k.writer == nil || e == nil {
		return nil
	}
	payload, err := encode(e)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()
	return k.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(e.AccountID),
		Value: payload,
		Time:  e.Timestamp,
	})
}

// Close flushes and closes the writer. Safe on a nil sink.
func (k *Kafka) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func encode(e *domain.AuditEvent) ([]byte, error) {
	return json.Marshal(message{
		ID:            e.ID,
		AccountID:     e.AccountID,
		Action:        e.Action,
		SourceAddress: e.SourceAddress,
		Detail:        e.Detail,
		Timestamp:     e.Timestamp.UTC(),
	})
}
