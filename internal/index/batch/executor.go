package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"trustindex/internal/index/metrics"
	"trustindex/internal/index/models"
	"trustindex/internal/index/ports"
	"trustindex/pkg/platform/circuit"
	"trustindex/pkg/platform/sentinel"
)

const (
	defaultProbeTimeout = 10 * time.Second
	defaultMaxInFlight  = 16
	tracerName          = "trustindex/internal/index/batch"
)

// ErrNoOutcome is returned by Settled.Outcome for an index outside the batch.
var ErrNoOutcome = errors.New("no outcome at index")

// Settled is the read-only view of a finished batch. Outcome i is the result
// of the i-th dispatched probe.
type Settled interface {
	Count() int
	Outcome(i int) ([]byte, error)
}

// Outcome is one branch result: exactly one of Raw or Err is meaningful.
type Outcome struct {
	Raw []byte
	Err error
}

// Outcomes is a Settled backed by a slice.
type Outcomes []Outcome

func (o Outcomes) Count() int { return len(o) }

func (o Outcomes) Outcome(i int) ([]byte, error) {
	if i < 0 || i >= len(o) {
		return nil, fmt.Errorf("%w %d", ErrNoOutcome, i)
	}
	return o[i].Raw, o[i].Err
}

// Continuation resumes the run once every branch has settled.
type Continuation func(ctx context.Context, settled Settled) error

// Executor dispatches a batch as independent branches and joins them with
// all-settled semantics: a failing branch never cancels its siblings.
type Executor struct {
	caller      ports.Caller
	timeout     time.Duration
	maxInFlight int
	breakerOpts []circuit.Option
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer

	mu       sync.Mutex
	breakers map[models.ProviderID]*circuit.Breaker
}

type Option func(*Executor)

// WithProbeTimeout bounds each branch. An expired branch settles as a call failure.
func WithProbeTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxInFlight bounds concurrently running branches.
func WithMaxInFlight(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxInFlight = n
		}
	}
}

// WithBreakerOptions configures the per-provider circuit breakers.
func WithBreakerOptions(opts ...circuit.Option) Option {
	return func(e *Executor) {
		e.breakerOpts = append(e.breakerOpts, opts...)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

func NewExecutor(caller ports.Caller, opts ...Option) (*Executor, error) {
	if caller == nil {
		return nil, errors.New("caller is required")
	}

	e := &Executor{
		caller:      caller,
		timeout:     defaultProbeTimeout,
		maxInFlight: defaultMaxInFlight,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:      otel.Tracer(tracerName),
		breakers:    make(map[models.ProviderID]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run dispatches every probe of b, waits for all of them to settle and then
// invokes cont exactly once. An empty batch invokes cont immediately.
//
// Run fails without invoking cont only when the batch cannot be dispatched.
// Otherwise it returns whatever cont returns. Once dispatched, the run ignores
// cancellation of ctx; the per-probe timeout is the only deadline.
func (e *Executor) Run(ctx context.Context, b *Batch, cont Continuation) error {
	if e == nil || e.caller == nil {
		return errors.New("dispatch batch: caller is required")
	}
	if b == nil {
		return errors.New("dispatch batch: batch is required")
	}
	if cont == nil {
		return errors.New("dispatch batch: continuation is required")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dispatch batch: %w", err)
	}
	ctx = context.WithoutCancel(ctx)

	ctx, span := e.tracer.Start(ctx, "batch.Run", trace.WithAttributes(
		attribute.String("account_id", b.account.String()),
		attribute.Int("probes", b.Len()),
	))
	defer span.End()

	outcomes := make(Outcomes, b.Len())
	if b.Len() > 0 {
		// Plain group, not WithContext: one failed branch must not cancel the rest.
		var g errgroup.Group
		g.SetLimit(e.maxInFlight)
		for i, p := range b.probes {
			g.Go(func() error {
				raw, err := e.dispatch(ctx, i, p)
				outcomes[i] = Outcome{Raw: raw, Err: err}
				return nil
			})
		}
		// Branches report through outcomes and always return nil.
		_ = g.Wait()
	}

	return cont(ctx, outcomes)
}

func (e *Executor) dispatch(ctx context.Context, i int, p Probe) ([]byte, error) {
	d := p.Descriptor
	ctx, span := e.tracer.Start(ctx, "batch.probe", trace.WithAttributes(
		attribute.Int("probe.index", i),
		attribute.String("probe.provider", d.Provider.String()),
		attribute.String("probe.capability", d.Capability.String()),
	))
	defer span.End()

	br := e.breaker(d.Provider)
	if !br.Allow() {
		err := fmt.Errorf("provider %s: %w", d.Provider, sentinel.ErrCircuitOpen)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	raw, err := e.safeCall(callCtx, p)
	e.metrics.ObserveProbe(d.Provider.String(), d.Capability.String(), time.Since(start))

	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", e.timeout, err)
		}
		e.recordFailure(ctx, br, d.Provider)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.recordSuccess(ctx, br, d.Provider)
	return raw, nil
}

func (e *Executor) safeCall(ctx context.Context, p Probe) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("call panicked: %v", r)
		}
	}()
	return e.caller.Call(ctx, p.Descriptor.Provider, p.Descriptor.Capability, p.Args)
}

func (e *Executor) breaker(provider models.ProviderID) *circuit.Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	br, ok := e.breakers[provider]
	if !ok {
		br = circuit.New(provider.String(), e.breakerOpts...)
		e.breakers[provider] = br
	}
	return br
}

func (e *Executor) recordFailure(ctx context.Context, br *circuit.Breaker, provider models.ProviderID) {
	if _, change := br.RecordFailure(); change.Opened {
		e.logger.WarnContext(ctx, "provider circuit opened", "provider", provider)
		e.metrics.IncrementBreakerTransition(provider.String(), string(circuit.StateOpen))
	}
}

func (e *Executor) recordSuccess(ctx context.Context, br *circuit.Breaker, provider models.ProviderID) {
	if _, change := br.RecordSuccess(); change.Closed {
		e.logger.InfoContext(ctx, "provider circuit closed", "provider", provider)
		e.metrics.IncrementBreakerTransition(provider.String(), string(circuit.StateClosed))
	}
}
