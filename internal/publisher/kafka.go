package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"rule-persistence/internal/models"
)

// MessageWriter is satisfied by client.KafkaProducer.
type MessageWriter interface {
	ProduceMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher emits one message per offender, keyed by rule so a rule's
// events stay ordered on one partition.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

func NewKafkaPublisher(writer MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic}
}

func (p *KafkaPublisher) PublishOffenders(ctx context.Context, records []models.OffenderRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(toEvent(rec))
		if err != nil {
			return fmt.Errorf("failed to encode offender event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: p.topic,
			Key:   []byte(rec.RuleName),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event", Value: []byte("offender.persisted")},
			},
		})
	}
	if err := p.writer.ProduceMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}
