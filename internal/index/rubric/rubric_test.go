package rubric

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustindex/internal/index/models"
)

func TestCountRubric(t *testing.T) {
	reg := Default()

	tests := []struct {
		name  string
		raw   string
		score int64
	}{
		{name: "zero number", raw: `0`, score: 0},
		{name: "one", raw: `1`, score: 1},
		{name: "many saturates", raw: `42`, score: 1},
		{name: "numeric string", raw: `"2"`, score: 1},
		{name: "zero string", raw: `"0"`, score: 0},
		{name: "u128 sized string", raw: `"340282366920938463463374607431768211455"`, score: 1},
		{name: "surrounding whitespace", raw: " 3\n", score: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := reg.Decode(models.CapabilityNFTCount, []byte(tt.raw))
			require.NoError(t, err)
			require.NotNil(t, p.Value)
			assert.True(t, reg.Score(models.CapabilityNFTCount, p).Equal(decimal.NewFromInt(tt.score)))
		})
	}
}

func TestCountRubric_DecodeFailures(t *testing.T) {
	reg := Default()

	for _, raw := range []string{
		``,
		`not json`,
		`-1`,
		`1.5`,
		`"abc"`,
		`true`,
		`null`,
		`[1]`,
		`{"count":1}`,
		`1 2`,
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := reg.Decode(models.CapabilityNFTCount, []byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestUnknownCapabilityIsNeutral(t *testing.T) {
	reg := Default()

	assert.False(t, reg.Scored(models.CapabilityNFTTokens))

	p, err := reg.Decode(models.CapabilityNFTTokens, []byte(`[{"token_id":"1"}]`))
	require.NoError(t, err)
	assert.Nil(t, p.Value)
	assert.True(t, reg.Score(models.CapabilityNFTTokens, p).IsZero())

	_, err = reg.Decode(models.CapabilityNFTTokens, []byte(`{broken`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

type fixedRubric struct{ score decimal.Decimal }

func (f fixedRubric) Decode(raw []byte) (models.Payload, error) { return models.Payload{Raw: raw}, nil }
func (f fixedRubric) Score(models.Payload) decimal.Decimal       { return f.score }

func TestRegistryClampsScores(t *testing.T) {
	reg := NewRegistry(map[models.Capability]Rubric{
		"high": fixedRubric{score: decimal.NewFromInt(7)},
		"low":  fixedRubric{score: decimal.NewFromInt(-3)},
		"nil":  nil,
	})

	assert.True(t, reg.Score("high", models.Payload{}).Equal(decimal.NewFromInt(1)))
	assert.True(t, reg.Score("low", models.Payload{}).IsZero())
	assert.False(t, reg.Scored("nil"), "nil rubrics are dropped")
}
