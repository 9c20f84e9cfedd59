// Package events announces completed aggregations on a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"trustindex/internal/index/models"
)

// EventType is carried in the record headers so consumers can route without
// decoding the payload.
const EventType = "trustindex.index_calculated"

// Producer is the slice of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher writes one JSON record per aggregation, keyed by account so
// each account's events stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

// NewKafkaPublisher publishes to topic. An empty topic uses the client's
// default produce topic.
func NewKafkaPublisher(producer Producer, topic string) (*KafkaPublisher, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	return &KafkaPublisher{producer: producer, topic: topic}, nil
}

func (p *KafkaPublisher) PublishIndexCalculated(ctx context.Context, event models.IndexCalculated) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal index event: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Account),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(EventType)},
			{Key: "run_id", Value: []byte(event.RunID)},
		},
	}
	if err := p.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce index event: %w", err)
	}
	return nil
}

// NopPublisher discards events. It stands in when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishIndexCalculated(context.Context, models.IndexCalculated) error {
	return nil
}
