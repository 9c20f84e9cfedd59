// Package reducer folds per-probe scores into a single two-decimal index.
package reducer

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"trustindex/internal/index/models"
	"trustindex/internal/index/rubric"
)

const (
	KindMean   = "mean"
	KindMinMax = "minmax"
)

const places = 2

var one = decimal.NewFromInt(1)

// Reducer produces the index for one run's samples. The result is always a
// two-decimal string in [0.00, 1.00].
type Reducer interface {
	Reduce(ctx context.Context, samples []models.Sample) (string, error)
}

// Mean averages scores exactly and rounds half away from zero to two places.
// No scores yields the floor index.
func Mean(scores []decimal.Decimal) string {
	if len(scores) == 0 {
		return models.FloorIndex
	}
	sum := decimal.Zero
	for _, s := range scores {
		sum = sum.Add(s)
	}
	return clamp(sum.DivRound(decimal.NewFromInt(int64(len(scores))), places)).StringFixed(places)
}

// MeanReducer averages the rubric scores.
type MeanReducer struct{}

func (MeanReducer) Reduce(_ context.Context, samples []models.Sample) (string, error) {
	scores := make([]decimal.Decimal, len(samples))
	for i, s := range samples {
		scores[i] = s.Score
	}
	return Mean(scores), nil
}

// ValueSource supplies every known numeric value of a capability.
type ValueSource interface {
	CapabilityValues(ctx context.Context, c models.Capability, reg *rubric.Registry) ([]decimal.Decimal, error)
}

// MinMaxReducer rescales each numeric sample against the range of that
// capability across all known accounts, then averages. A degenerate range
// and non-numeric samples fall back to the rubric score.
type MinMaxReducer struct {
	values  ValueSource
	rubrics *rubric.Registry
}

func NewMinMax(values ValueSource, rubrics *rubric.Registry) (*MinMaxReducer, error) {
	if values == nil {
		return nil, errors.New("value source is required")
	}
	if rubrics == nil {
		return nil, errors.New("rubric registry is required")
	}
	return &MinMaxReducer{values: values, rubrics: rubrics}, nil
}

type valueRange struct {
	min, max decimal.Decimal
	ok       bool
}

func (r *MinMaxReducer) Reduce(ctx context.Context, samples []models.Sample) (string, error) {
	ranges := make(map[models.Capability]valueRange)
	scores := make([]decimal.Decimal, 0, len(samples))

	for _, s := range samples {
		if s.Payload.Value == nil {
			scores = append(scores, s.Score)
			continue
		}

		c := s.Descriptor.Capability
		rng, seen := ranges[c]
		if !seen {
			values, err := r.values.CapabilityValues(ctx, c, r.rubrics)
			if err != nil {
				return "", fmt.Errorf("load %s range: %w", c, err)
			}
			rng = rangeOf(values)
			ranges[c] = rng
		}

		if !rng.ok || rng.max.Equal(rng.min) {
			scores = append(scores, s.Score)
			continue
		}
		norm := s.Payload.Value.Sub(rng.min).Div(rng.max.Sub(rng.min))
		scores = append(scores, clamp(norm))
	}
	return Mean(scores), nil
}

func rangeOf(values []decimal.Decimal) valueRange {
	if len(values) == 0 {
		return valueRange{}
	}
	return valueRange{min: decimal.Min(values[0], values[1:]...), max: decimal.Max(values[0], values[1:]...), ok: true}
}

// New selects a reducer by kind. Unknown kinds are rejected.
func New(kind string, values ValueSource, rubrics *rubric.Registry) (Reducer, error) {
	switch kind {
	case "", KindMean:
		return MeanReducer{}, nil
	case KindMinMax:
		r, err := NewMinMax(values, rubrics)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown reducer %q", kind)
	}
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}
