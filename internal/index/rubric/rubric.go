// Package rubric maps probe payloads to bounded scores. Each capability has
// one rubric, resolved when the registry is built.
package rubric

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"trustindex/internal/index/models"
)

var (
	// ErrInvalidJSON is returned when a payload is not a single JSON value.
	ErrInvalidJSON = errors.New("payload is not valid JSON")
	// ErrNotCount is returned when a count payload is not a non-negative integer.
	ErrNotCount = errors.New("payload is not a non-negative integer count")
)

var (
	scoreMin = decimal.Zero
	scoreMax = decimal.NewFromInt(1)
)

// Rubric decodes and scores one capability's payloads. Score must be pure
// and total over any payload Decode accepted.
type Rubric interface {
	Decode(raw []byte) (models.Payload, error)
	Score(p models.Payload) decimal.Decimal
}

// Registry is a static capability to rubric table. Capabilities without an
// entry decode as any JSON value and score zero.
type Registry struct {
	rubrics map[models.Capability]Rubric
}

// NewRegistry copies the table.
func NewRegistry(rubrics map[models.Capability]Rubric) *Registry {
	r := &Registry{rubrics: make(map[models.Capability]Rubric, len(rubrics))}
	for c, rb := range rubrics {
		if rb != nil {
			r.rubrics[c] = rb
		}
	}
	return r
}

// Default scores NFT ownership counts.
func Default() *Registry {
	return NewRegistry(map[models.Capability]Rubric{
		models.CapabilityNFTCount: CountRubric{},
	})
}

// For returns the rubric for c.
func (r *Registry) For(c models.Capability) Rubric {
	if rb, ok := r.rubrics[c]; ok {
		return rb
	}
	return neutral{}
}

// Scored reports whether c has a dedicated rubric.
func (r *Registry) Scored(c models.Capability) bool {
	_, ok := r.rubrics[c]
	return ok
}

// Decode parses raw with the rubric for c.
func (r *Registry) Decode(c models.Capability, raw []byte) (models.Payload, error) {
	return r.For(c).Decode(raw)
}

// Score applies the rubric for c and clamps the result to [0, 1].
func (r *Registry) Score(c models.Capability, p models.Payload) decimal.Decimal {
	s := r.For(c).Score(p)
	if s.LessThan(scoreMin) {
		return scoreMin
	}
	if s.GreaterThan(scoreMax) {
		return scoreMax
	}
	return s
}

// CountRubric is a saturating binary rubric: zero scores 0, any positive
// count scores 1. Counts may arrive as JSON numbers or numeric strings
// (u128 values are serialized as strings).
type CountRubric struct{}

func (CountRubric) Decode(raw []byte) (models.Payload, error) {
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return models.Payload{}, ErrInvalidJSON
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return models.Payload{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	var text string
	switch n := v.(type) {
	case json.Number:
		text = n.String()
	case string:
		text = n
	default:
		return models.Payload{}, fmt.Errorf("%w: got %s", ErrNotCount, jsonKind(v))
	}

	d, err := decimal.NewFromString(text)
	if err != nil || d.IsNegative() || !d.IsInteger() {
		return models.Payload{}, fmt.Errorf("%w: %q", ErrNotCount, text)
	}
	return models.Payload{Raw: json.RawMessage(raw), Value: &d}, nil
}

func (CountRubric) Score(p models.Payload) decimal.Decimal {
	if p.Value == nil || !p.Value.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1)
}

type neutral struct{}

func (neutral) Decode(raw []byte) (models.Payload, error) {
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return models.Payload{}, ErrInvalidJSON
	}
	return models.Payload{Raw: json.RawMessage(raw)}, nil
}

func (neutral) Score(models.Payload) decimal.Decimal {
	return decimal.Zero
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
