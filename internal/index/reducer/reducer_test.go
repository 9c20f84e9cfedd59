package reducer

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustindex/internal/index/models"
	"trustindex/internal/index/rubric"
)

var indexFormat = regexp.MustCompile(`^[01]\.\d{2}$`)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMean(t *testing.T) {
	tests := []struct {
		name   string
		scores []string
		want   string
	}{
		{name: "empty", scores: nil, want: "0.00"},
		{name: "all zero", scores: []string{"0", "0"}, want: "0.00"},
		{name: "all one", scores: []string{"1", "1", "1"}, want: "1.00"},
		{name: "half", scores: []string{"1", "0"}, want: "0.50"},
		{name: "thirds round down", scores: []string{"1", "0", "0"}, want: "0.33"},
		{name: "two thirds round up", scores: []string{"1", "1", "0"}, want: "0.67"},
		{name: "half cent rounds away from zero", scores: []string{"0.125"}, want: "0.13"},
		{name: "eighths", scores: []string{"1", "0", "0", "0", "0", "0", "0", "0"}, want: "0.13"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := make([]decimal.Decimal, len(tt.scores))
			for i, s := range tt.scores {
				scores[i] = dec(s)
			}
			got := Mean(scores)
			assert.Equal(t, tt.want, got)
			assert.Regexp(t, indexFormat, got)
		})
	}
}

func TestMean_FormatOverManyInputs(t *testing.T) {
	for n := 1; n <= 12; n++ {
		for ones := 0; ones <= n; ones++ {
			scores := make([]decimal.Decimal, n)
			for i := range scores {
				if i < ones {
					scores[i] = decimal.NewFromInt(1)
				} else {
					scores[i] = decimal.Zero
				}
			}
			assert.Regexp(t, indexFormat, Mean(scores), "n=%d ones=%d", n, ones)
		}
	}
}

func sample(c models.Capability, value string, score int64) models.Sample {
	s := models.Sample{
		Descriptor: models.ProbeDescriptor{Account: "alice.near", Provider: "a.near", Capability: c},
		Score:      decimal.NewFromInt(score),
	}
	if value != "" {
		v := dec(value)
		s.Payload.Value = &v
	}
	return s
}

func TestMeanReducer(t *testing.T) {
	got, err := MeanReducer{}.Reduce(context.Background(), []models.Sample{
		sample(models.CapabilityNFTCount, "3", 1),
		sample(models.CapabilityNFTTokens, "", 0),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.50", got)
}

type fakeValues struct {
	values map[models.Capability][]decimal.Decimal
	err    error
	calls  int
}

func (f *fakeValues) CapabilityValues(_ context.Context, c models.Capability, _ *rubric.Registry) ([]decimal.Decimal, error) {
	f.calls++
	return f.values[c], f.err
}

func TestMinMaxReducer(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes against the known range", func(t *testing.T) {
		src := &fakeValues{values: map[models.Capability][]decimal.Decimal{
			models.CapabilityNFTCount: {dec("0"), dec("4"), dec("2")},
		}}
		r, err := NewMinMax(src, rubric.Default())
		require.NoError(t, err)

		got, err := r.Reduce(ctx, []models.Sample{
			sample(models.CapabilityNFTCount, "2", 1),
			sample(models.CapabilityNFTCount, "4", 1),
		})
		require.NoError(t, err)
		assert.Equal(t, "0.75", got)
		assert.Equal(t, 1, src.calls, "range is loaded once per capability")
	})

	t.Run("degenerate range falls back to score", func(t *testing.T) {
		src := &fakeValues{values: map[models.Capability][]decimal.Decimal{
			models.CapabilityNFTCount: {dec("3"), dec("3")},
		}}
		r, err := NewMinMax(src, rubric.Default())
		require.NoError(t, err)

		got, err := r.Reduce(ctx, []models.Sample{sample(models.CapabilityNFTCount, "3", 1)})
		require.NoError(t, err)
		assert.Equal(t, "1.00", got)
	})

	t.Run("non numeric samples use their score", func(t *testing.T) {
		r, err := NewMinMax(&fakeValues{}, rubric.Default())
		require.NoError(t, err)

		got, err := r.Reduce(ctx, []models.Sample{
			sample(models.CapabilityNFTTokens, "", 0),
			sample(models.CapabilityNFTCount, "5", 1),
		})
		require.NoError(t, err)
		assert.Equal(t, "0.50", got)
	})

	t.Run("empty", func(t *testing.T) {
		r, err := NewMinMax(&fakeValues{}, rubric.Default())
		require.NoError(t, err)

		got, err := r.Reduce(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "0.00", got)
	})

	t.Run("value source error", func(t *testing.T) {
		boom := errors.New("kv down")
		r, err := NewMinMax(&fakeValues{err: boom}, rubric.Default())
		require.NoError(t, err)

		_, err = r.Reduce(ctx, []models.Sample{sample(models.CapabilityNFTCount, "1", 1)})
		assert.ErrorIs(t, err, boom)
	})
}

func TestNew(t *testing.T) {
	r, err := New("", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, MeanReducer{}, r)

	r, err = New(KindMinMax, &fakeValues{}, rubric.Default())
	require.NoError(t, err)
	assert.IsType(t, &MinMaxReducer{}, r)

	_, err = New(KindMinMax, nil, rubric.Default())
	assert.Error(t, err)

	_, err = New("median", nil, nil)
	assert.EqualError(t, err, `unknown reducer "median"`)
}
