// Package publisher fans newly persisted offender records out to downstream
// consumers. Delivery is best-effort: the durable record in Scylla is the
// source of truth.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"rule-persistence/internal/models"
)

type OffenderPublisher interface {
	PublishOffenders(ctx context.Context, records []models.OffenderRecord) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []OffenderPublisher

func (m Multi) PublishOffenders(ctx context.Context, records []models.OffenderRecord) error {
	if len(records) == 0 {
		return nil
	}
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishOffenders(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// offenderEvent is the wire form shared by Kafka and Elasticsearch.
type offenderEvent struct {
	RuleName   string `json:"rule_name"`
	Sample     string `json:"sample"`
	RejectTime int64  `json:"reject_time"`
	AddedAt    string `json:"added_at"`
}

func toEvent(rec models.OffenderRecord) offenderEvent {
	return offenderEvent{
		RuleName:   rec.RuleName,
		Sample:     rec.Sample,
		RejectTime: rec.RejectTime,
		AddedAt:    rec.AddedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// documentID is stable per (rule, sample, reject time).
func documentID(rec models.OffenderRecord) string {
	return fmt.Sprintf("%s|%s|%s", rec.RuleName, rec.Sample, strconv.FormatInt(rec.RejectTime, 10))
}
