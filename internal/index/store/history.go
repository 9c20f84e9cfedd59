package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trustindex/internal/index/models"
	"trustindex/internal/index/rubric"
)

// Key namespaces. Index and timestamp are keyed by account; results and
// failures by probe key (account:provider:capability).
const (
	prefixIndex   = "index:"
	prefixTS      = "ts:"
	prefixResult  = "result:"
	prefixFailure = "failure:"
)

// History is the typed view of the trust index state held in a KV.
type History struct {
	kv KV
}

func NewHistory(kv KV) (*History, error) {
	if kv == nil {
		return nil, errors.New("kv is required")
	}
	return &History{kv: kv}, nil
}

// RecordIndex stores the index and its timestamp together.
func (h *History) RecordIndex(ctx context.Context, account models.AccountID, idx models.AccountIndex) error {
	err := h.kv.SetMany(ctx, map[string]string{
		prefixIndex + string(account): idx.Index,
		prefixTS + string(account):    strconv.FormatInt(idx.Timestamp.UnixNano(), 10),
	})
	if err != nil {
		return fmt.Errorf("record index for %s: %w", account, err)
	}
	return nil
}

// Index returns the last recorded index, or false when the account has never
// been aggregated.
func (h *History) Index(ctx context.Context, account models.AccountID) (models.AccountIndex, bool, error) {
	idx, ok, err := h.kv.Get(ctx, prefixIndex+string(account))
	if err != nil {
		return models.AccountIndex{}, false, fmt.Errorf("read index for %s: %w", account, err)
	}
	if !ok {
		return models.AccountIndex{}, false, nil
	}

	out := models.AccountIndex{Index: idx}
	raw, ok, err := h.kv.Get(ctx, prefixTS+string(account))
	if err != nil {
		return models.AccountIndex{}, false, fmt.Errorf("read timestamp for %s: %w", account, err)
	}
	if ok {
		ns, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return models.AccountIndex{}, false, fmt.Errorf("parse timestamp for %s: %w", account, err)
		}
		out.Timestamp = time.Unix(0, ns).UTC()
	}
	return out, true, nil
}

// RecordOutcome stores the raw payload of a successful probe.
func (h *History) RecordOutcome(ctx context.Context, d models.ProbeDescriptor, raw []byte) error {
	if err := h.kv.Set(ctx, prefixResult+d.Key(), string(raw)); err != nil {
		return fmt.Errorf("record outcome %s: %w", d.Key(), err)
	}
	return nil
}

// RecordFailure stores the failure message for one probe and blanks the
// probe's previous result so it no longer counts toward capability values.
func (h *History) RecordFailure(ctx context.Context, f models.FailureRecord) error {
	key := f.Descriptor.Key()
	if err := h.kv.SetMany(ctx, map[string]string{
		prefixFailure + key: f.Message,
		prefixResult + key:  "",
	}); err != nil {
		return fmt.Errorf("record failure %s: %w", f.Descriptor.Key(), err)
	}
	return nil
}

// ClearFailures blanks every failure of account. Blank values are treated as
// absent by readers, so no delete capability is needed.
func (h *History) ClearFailures(ctx context.Context, account models.AccountID) error {
	entries, err := h.kv.Enumerate(ctx, failurePrefix(account))
	if err != nil {
		return fmt.Errorf("list failures for %s: %w", account, err)
	}
	cleared := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Value != "" {
			cleared[e.Key] = ""
		}
	}
	if err := h.kv.SetMany(ctx, cleared); err != nil {
		return fmt.Errorf("clear failures for %s: %w", account, err)
	}
	return nil
}

// Failures returns the non-empty failures of account, ordered by probe key.
func (h *History) Failures(ctx context.Context, account models.AccountID) ([]models.ProbeError, error) {
	entries, err := h.kv.Enumerate(ctx, failurePrefix(account))
	if err != nil {
		return nil, fmt.Errorf("list failures for %s: %w", account, err)
	}
	out := make([]models.ProbeError, 0, len(entries))
	for _, e := range entries {
		if e.Value == "" {
			continue
		}
		d, ok := models.ParseProbeKey(strings.TrimPrefix(e.Key, prefixFailure))
		if !ok || d.Account != account {
			continue
		}
		out = append(out, models.ProbeError{Provider: d.Provider, Message: e.Value})
	}
	return out, nil
}

// CapabilityValues decodes every stored result of capability c across all
// accounts and returns the numeric values. Results that no longer decode, or
// carry no number, are skipped.
func (h *History) CapabilityValues(ctx context.Context, c models.Capability, reg *rubric.Registry) ([]decimal.Decimal, error) {
	entries, err := h.kv.Enumerate(ctx, prefixResult)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	out := make([]decimal.Decimal, 0)
	for _, e := range entries {
		d, ok := models.ParseProbeKey(strings.TrimPrefix(e.Key, prefixResult))
		if !ok || d.Capability != c || e.Value == "" {
			continue
		}
		p, err := reg.Decode(c, []byte(e.Value))
		if err != nil || p.Value == nil {
			continue
		}
		out = append(out, *p.Value)
	}
	return out, nil
}

func failurePrefix(account models.AccountID) string {
	return prefixFailure + string(account) + models.KeySeparator
}
