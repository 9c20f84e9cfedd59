// Package batch builds the probe fan-out for one aggregation run and
// dispatches it through the host call capability.
package batch

import (
	"encoding/json"

	"trustindex/internal/index/models"
	"trustindex/internal/index/whitelist"
)

// Probe is one dispatchable remote call.
type Probe struct {
	Descriptor models.ProbeDescriptor
	Args       []byte
}

// Batch is the ordered set of probes for one account. Outcome i of a settled
// batch always belongs to Descriptors()[i].
type Batch struct {
	account models.AccountID
	probes  []Probe
}

type probeArgs struct {
	AccountID models.AccountID `json:"account_id"`
}

// Build flattens the whitelist into probes for account, provider by provider
// and capability by capability. A provider with no capabilities contributes
// nothing and an empty whitelist yields an empty batch.
func Build(wl *whitelist.Whitelist, account models.AccountID) *Batch {
	descriptors := wl.Flatten(account)
	args, _ := json.Marshal(probeArgs{AccountID: account}) // cannot fail for a string field

	b := &Batch{account: account, probes: make([]Probe, 0, len(descriptors))}
	for _, d := range descriptors {
		b.probes = append(b.probes, Probe{Descriptor: d, Args: args})
	}
	return b
}

func (b *Batch) Account() models.AccountID { return b.account }

func (b *Batch) Len() int { return len(b.probes) }

func (b *Batch) Probes() []Probe {
	out := make([]Probe, len(b.probes))
	copy(out, b.probes)
	return out
}

// Descriptors returns the descriptor sequence in dispatch order.
func (b *Batch) Descriptors() []models.ProbeDescriptor {
	out := make([]models.ProbeDescriptor, len(b.probes))
	for i, p := range b.probes {
		out[i] = p.Descriptor
	}
	return out
}
