package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"trustindex/internal/index/batch"
	"trustindex/internal/index/collector"
	"trustindex/internal/index/metrics"
	"trustindex/internal/index/models"
	"trustindex/internal/index/ports"
	"trustindex/internal/index/reducer"
	"trustindex/internal/index/rubric"
	"trustindex/internal/index/store"
	"trustindex/internal/index/whitelist"
	dErrors "trustindex/pkg/domain-errors"
	"trustindex/pkg/requestcontext"
)

const tracerName = "trustindex/internal/index/service"

// Executor runs a probe batch and resumes with its settled outcomes.
type Executor interface {
	Run(ctx context.Context, b *batch.Batch, cont batch.Continuation) error
}

// Service computes and serves trust indexes. Whitelisted accounts are
// trusted outright; every other account is scored from provider probes.
type Service struct {
	whitelist *whitelist.Whitelist
	executor  Executor
	history   *store.History
	rubrics   *rubric.Registry
	reducer   reducer.Reducer
	collector *collector.Collector
	publisher ports.EventPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	clock     func() time.Time

	// one in-flight aggregation per account
	flight singleflight.Group
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRubrics replaces the default capability rubrics.
func WithRubrics(r *rubric.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.rubrics = r
		}
	}
}

// WithReducer replaces the default mean reducer.
func WithReducer(r reducer.Reducer) Option {
	return func(s *Service) {
		if r != nil {
			s.reducer = r
		}
	}
}

func WithEventPublisher(p ports.EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides time.Now when stamping calculated indexes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

func New(wl *whitelist.Whitelist, executor Executor, history *store.History, opts ...Option) (*Service, error) {
	if wl == nil {
		return nil, errors.New("whitelist is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if history == nil {
		return nil, errors.New("history is required")
	}

	s := &Service{
		whitelist: wl,
		executor:  executor,
		history:   history,
		rubrics:   rubric.Default(),
		reducer:   reducer.MeanReducer{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:    otel.Tracer(tracerName),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	c, err := collector.New(history, s.rubrics, collector.WithLogger(s.logger), collector.WithMetrics(s.metrics))
	if err != nil {
		return nil, err
	}
	s.collector = c
	return s, nil
}

// Lookup returns the current report for account without probing anything.
func (s *Service) Lookup(ctx context.Context, account models.AccountID) (*models.IndexReport, error) {
	if _, err := models.ParseAccountID(string(account)); err != nil {
		return nil, err
	}
	if s.whitelist.Contains(account) {
		s.metrics.IncrementLookup("whitelisted")
		return s.whitelisted(ctx, account), nil
	}

	report, err := s.report(ctx, account)
	if err != nil {
		return nil, err
	}
	if report.Index == nil {
		s.metrics.IncrementLookup("unknown")
	} else {
		s.metrics.IncrementLookup("stored")
	}
	return report, nil
}

// Calculate aggregates a fresh index for account. Per-probe failures are
// recorded in the report and never fail the call. Concurrent calls for the
// same account share one run.
func (s *Service) Calculate(ctx context.Context, account models.AccountID) (*models.IndexReport, error) {
	if _, err := models.ParseAccountID(string(account)); err != nil {
		return nil, err
	}
	if s.whitelist.Contains(account) {
		s.metrics.IncrementCalculation("whitelisted")
		return s.whitelisted(ctx, account), nil
	}

	v, err, shared := s.flight.Do(string(account), func() (any, error) {
		return s.calculate(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.DebugContext(ctx, "joined in-flight calculation", "account_id", account)
	}
	return cloneReport(v.(*models.IndexReport)), nil
}

func (s *Service) calculate(ctx context.Context, account models.AccountID) (*models.IndexReport, error) {
	ctx, span := s.tracer.Start(ctx, "index.Calculate", trace.WithAttributes(
		attribute.String("account_id", account.String()),
	))
	defer span.End()

	start := time.Now()
	runID := uuid.NewString()
	b := batch.Build(s.whitelist, account)

	var report *models.IndexReport
	err := s.executor.Run(ctx, b, func(ctx context.Context, settled batch.Settled) error {
		r, err := s.finalize(ctx, runID, b, settled)
		report = r
		return err
	})
	s.metrics.ObserveCalculate(time.Since(start))

	if err != nil {
		s.metrics.IncrementCalculation("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "trust index calculation failed",
			"account_id", account,
			"run_id", runID,
			"error", err,
		)
		return nil, translateError(err)
	}

	s.metrics.IncrementCalculation("computed")
	return report, nil
}

// finalize is the executor continuation: collect, reduce, persist, announce.
func (s *Service) finalize(ctx context.Context, runID string, b *batch.Batch, settled batch.Settled) (*models.IndexReport, error) {
	account := b.Account()

	res, err := s.collector.Collect(ctx, account, b.Descriptors(), settled)
	if err != nil {
		return nil, err
	}

	index, err := s.reducer.Reduce(ctx, res.Samples)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if err := s.history.RecordIndex(ctx, account, models.AccountIndex{Index: index, Timestamp: now}); err != nil {
		return nil, err
	}

	if f, err := indexFloat(index); err == nil {
		s.metrics.ObserveIndex(f)
	}
	s.logger.InfoContext(ctx, "trust index calculated",
		"account_id", account,
		"run_id", runID,
		"index", index,
		"probes", b.Len(),
		"scored", len(res.Samples),
		"failures", len(res.Failures),
	)

	s.publish(ctx, models.IndexCalculated{
		RunID:     runID,
		Account:   account,
		Index:     index,
		Probes:    b.Len(),
		Scored:    len(res.Samples),
		Failures:  len(res.Failures),
		Timestamp: now,
	})

	return s.report(ctx, account)
}

func (s *Service) publish(ctx context.Context, event models.IndexCalculated) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishIndexCalculated(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish index event",
			"account_id", event.Account,
			"run_id", event.RunID,
			"error", err,
		)
	}
}

func (s *Service) report(ctx context.Context, account models.AccountID) (*models.IndexReport, error) {
	idx, ok, err := s.history.Index(ctx, account)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read trust index")
	}
	failures, err := s.history.Failures(ctx, account)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read probe failures")
	}

	r := &models.IndexReport{Account: account, Errors: failures}
	if ok {
		r.Index = &idx.Index
		ts := idx.Timestamp
		r.Timestamp = &ts
	}
	return r, nil
}

func (s *Service) whitelisted(ctx context.Context, account models.AccountID) *models.IndexReport {
	index := models.MaxIndex
	now := requestcontext.Now(ctx)
	return &models.IndexReport{
		Account:     account,
		Index:       &index,
		Timestamp:   &now,
		Errors:      []models.ProbeError{},
		Whitelisted: true,
	}
}
