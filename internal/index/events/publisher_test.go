package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"trustindex/internal/index/models"
)

type recordingProducer struct {
	records []*kgo.Record
	err     error
}

func (r *recordingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, rec := range rs {
		r.records = append(r.records, rec)
		out = append(out, kgo.ProduceResult{Record: rec, Err: r.err})
	}
	return out
}

func testEvent() models.IndexCalculated {
	return models.IndexCalculated{
		RunID:     "run-1",
		Account:   "alice.near",
		Index:     "0.50",
		Probes:    2,
		Scored:    2,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	prod := &recordingProducer{}
	p, err := NewKafkaPublisher(prod, "index-events")
	require.NoError(t, err)

	require.NoError(t, p.PublishIndexCalculated(context.Background(), testEvent()))

	require.Len(t, prod.records, 1)
	rec := prod.records[0]
	assert.Equal(t, "index-events", rec.Topic)
	assert.Equal(t, "alice.near", string(rec.Key))
	assert.Contains(t, rec.Headers, kgo.RecordHeader{Key: "event_type", Value: []byte(EventType)})

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Value, &got))
	assert.Equal(t, "alice.near", got["account_id"])
	assert.Equal(t, "0.50", got["index"])
	assert.Equal(t, "run-1", got["run_id"])
}

func TestKafkaPublisher_ProduceError(t *testing.T) {
	boom := errors.New("not leader")
	p, err := NewKafkaPublisher(&recordingProducer{err: boom}, "")
	require.NoError(t, err)

	err = p.PublishIndexCalculated(context.Background(), testEvent())
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaPublisher_RequiresProducer(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "t")
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.PublishIndexCalculated(context.Background(), testEvent()))
}
