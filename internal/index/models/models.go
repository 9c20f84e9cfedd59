package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	dErrors "trustindex/pkg/domain-errors"
)

// KeySeparator joins the segments of a probe key.
const KeySeparator = ":"

const maxAccountIDLength = 64

// AccountID identifies the account whose trust index is computed.
type AccountID string

// ProviderID identifies a whitelisted data provider.
type ProviderID string

// Capability names one kind of probe a provider answers.
type Capability string

const (
	CapabilityNFTCount  Capability = "nft_supply_for_owner"
	CapabilityNFTTokens Capability = "nft_tokens_for_owner"
)

func (a AccountID) String() string  { return string(a) }
func (p ProviderID) String() string { return string(p) }
func (c Capability) String() string { return string(c) }

// ParseAccountID validates an account identifier at a trust boundary.
func ParseAccountID(raw string) (AccountID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", dErrors.New(dErrors.CodeValidation, "account_id is required")
	}
	if len(raw) > maxAccountIDLength {
		return "", dErrors.New(dErrors.CodeValidation, "account_id must be at most 64 characters")
	}
	if strings.Contains(raw, KeySeparator) {
		return "", dErrors.New(dErrors.CodeValidation, "account_id must not contain ':'")
	}
	return AccountID(raw), nil
}

// ProviderEntry lists the capabilities probed for one provider, in order.
type ProviderEntry struct {
	Provider     ProviderID
	Capabilities []Capability
}

// ProbeDescriptor names one probe. It is also the natural key of every
// per-probe record.
type ProbeDescriptor struct {
	Account    AccountID
	Provider   ProviderID
	Capability Capability
}

// Key renders account:provider:capability.
func (d ProbeDescriptor) Key() string {
	return string(d.Account) + KeySeparator + string(d.Provider) + KeySeparator + string(d.Capability)
}

// ParseProbeKey splits a key produced by ProbeDescriptor.Key.
func ParseProbeKey(key string) (ProbeDescriptor, bool) {
	parts := strings.SplitN(key, KeySeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return ProbeDescriptor{}, false
	}
	return ProbeDescriptor{
		Account:    AccountID(parts[0]),
		Provider:   ProviderID(parts[1]),
		Capability: Capability(parts[2]),
	}, true
}

// Payload is a decoded probe answer. Value is set for numeric capabilities.
type Payload struct {
	Raw   json.RawMessage
	Value *decimal.Decimal
}

// FailureClass distinguishes why a probe produced no score.
type FailureClass string

const (
	// FailureCall means the branch itself errored or timed out.
	FailureCall FailureClass = "call_failure"
	// FailureDecode means the branch succeeded but its payload had the wrong shape.
	FailureDecode FailureClass = "decode_failure"
)

// FailureRecord is a per-probe failure kept until the account's next run.
type FailureRecord struct {
	Descriptor ProbeDescriptor
	Class      FailureClass
	Message    string
}

// Sample is a successfully decoded and scored probe.
type Sample struct {
	Descriptor ProbeDescriptor
	Payload    Payload
	Score      decimal.Decimal
}

// AccountIndex is the persisted result of an aggregation.
type AccountIndex struct {
	Index     string
	Timestamp time.Time
}

// ProbeError is a failure as exposed to readers.
type ProbeError struct {
	Provider ProviderID
	Message  string
}

// IndexReport is the read model for an account. Index and Timestamp are nil
// while the account has never been aggregated.
type IndexReport struct {
	Account     AccountID
	Index       *string
	Timestamp   *time.Time
	Errors      []ProbeError
	Whitelisted bool
}

// MaxIndex is reported for whitelisted accounts.
const MaxIndex = "1.00"

// FloorIndex is the index of a run with no scores.
const FloorIndex = "0.00"

// IndexCalculated is published after every completed aggregation.
type IndexCalculated struct {
	RunID     string    `json:"run_id"`
	Account   AccountID `json:"account_id"`
	Index     string    `json:"index"`
	Probes    int       `json:"probes"`
	Scored    int       `json:"scored"`
	Failures  int       `json:"failures"`
	Timestamp time.Time `json:"timestamp"`
}
