// Package collector turns settled probe outcomes into scored samples and
// per-probe failure records.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"trustindex/internal/index/batch"
	"trustindex/internal/index/metrics"
	"trustindex/internal/index/models"
	"trustindex/internal/index/rubric"
)

// Recorder is the slice of the history store the collector writes to.
type Recorder interface {
	ClearFailures(ctx context.Context, account models.AccountID) error
	RecordFailure(ctx context.Context, f models.FailureRecord) error
	RecordOutcome(ctx context.Context, d models.ProbeDescriptor, raw []byte) error
}

// Result is what one collection pass produced.
type Result struct {
	Samples  []models.Sample
	Failures []models.FailureRecord
}

type Collector struct {
	history Recorder
	rubrics *rubric.Registry
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Collector)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

func New(history Recorder, rubrics *rubric.Registry, opts ...Option) (*Collector, error) {
	if history == nil {
		return nil, errors.New("history is required")
	}
	if rubrics == nil {
		return nil, errors.New("rubric registry is required")
	}
	c := &Collector{
		history: history,
		rubrics: rubrics,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Collect walks outcomes in dispatch order. Outcome i is attributed to
// descriptors[i]; if the two lengths differ only the common prefix is read.
// A failed or undecodable probe is recorded and skipped. Only store errors
// abort the pass.
func (c *Collector) Collect(ctx context.Context, account models.AccountID, descriptors []models.ProbeDescriptor, settled batch.Settled) (*Result, error) {
	if err := c.history.ClearFailures(ctx, account); err != nil {
		return nil, err
	}

	n := min(settled.Count(), len(descriptors))
	if n != settled.Count() || n != len(descriptors) {
		c.logger.WarnContext(ctx, "outcome count does not match descriptors",
			"account_id", account,
			"outcomes", settled.Count(),
			"descriptors", len(descriptors),
		)
	}

	res := &Result{Samples: make([]models.Sample, 0, n)}
	for i := range n {
		d := descriptors[i]

		raw, err := settled.Outcome(i)
		if err != nil {
			if err := c.fail(ctx, res, i, d, models.FailureCall, "call failed", err); err != nil {
				return nil, err
			}
			continue
		}

		payload, err := c.rubrics.Decode(d.Capability, raw)
		if err != nil {
			if err := c.fail(ctx, res, i, d, models.FailureDecode, "returned undecodable payload", err); err != nil {
				return nil, err
			}
			continue
		}

		if err := c.history.RecordOutcome(ctx, d, payload.Raw); err != nil {
			return nil, err
		}
		res.Samples = append(res.Samples, models.Sample{
			Descriptor: d,
			Payload:    payload,
			Score:      c.rubrics.Score(d.Capability, payload),
		})
	}
	return res, nil
}

func (c *Collector) fail(ctx context.Context, res *Result, i int, d models.ProbeDescriptor, class models.FailureClass, what string, cause error) error {
	f := models.FailureRecord{
		Descriptor: d,
		Class:      class,
		Message:    fmt.Sprintf("probe %d (%s/%s) %s: %v", i, d.Provider, d.Capability, what, cause),
	}
	if err := c.history.RecordFailure(ctx, f); err != nil {
		return err
	}
	res.Failures = append(res.Failures, f)

	c.metrics.IncrementProbeFailure(d.Provider.String(), string(class))
	c.logger.InfoContext(ctx, "probe failed",
		"account_id", d.Account,
		"provider", d.Provider,
		"capability", d.Capability,
		"class", class,
		"error", cause,
	)
	return nil
}
