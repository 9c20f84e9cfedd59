// Package whitelist holds the ordered provider/capability set probed for
// every trust index run.
package whitelist

import (
	"fmt"
	"strings"

	"trustindex/internal/index/models"
)

// Deployment selects which built-in whitelist a process uses.
type Deployment string

const (
	DeploymentProduction Deployment = "production"
	DeploymentTest       Deployment = "test"
)

// ParseDeployment accepts the configured deployment name.
func ParseDeployment(raw string) (Deployment, error) {
	switch d := Deployment(strings.ToLower(strings.TrimSpace(raw))); d {
	case DeploymentProduction, DeploymentTest:
		return d, nil
	default:
		return "", fmt.Errorf("unknown deployment %q", raw)
	}
}

// Whitelist is an immutable, ordered set of provider entries.
type Whitelist struct {
	entries   []models.ProviderEntry
	providers map[models.ProviderID]struct{}
}

// New copies entries into a Whitelist. Provider IDs must be non-empty and
// unique; capability lists may be empty.
func New(entries []models.ProviderEntry) (*Whitelist, error) {
	w := &Whitelist{
		entries:   make([]models.ProviderEntry, 0, len(entries)),
		providers: make(map[models.ProviderID]struct{}, len(entries)),
	}
	for i, e := range entries {
		if strings.TrimSpace(string(e.Provider)) == "" {
			return nil, fmt.Errorf("whitelist entry %d: provider is required", i)
		}
		if strings.Contains(string(e.Provider), models.KeySeparator) {
			return nil, fmt.Errorf("whitelist entry %d: provider %q must not contain ':'", i, e.Provider)
		}
		if _, dup := w.providers[e.Provider]; dup {
			return nil, fmt.Errorf("whitelist entry %d: duplicate provider %q", i, e.Provider)
		}
		for _, c := range e.Capabilities {
			if strings.TrimSpace(string(c)) == "" {
				return nil, fmt.Errorf("whitelist entry %d: empty capability for provider %q", i, e.Provider)
			}
		}
		w.providers[e.Provider] = struct{}{}
		w.entries = append(w.entries, models.ProviderEntry{
			Provider:     e.Provider,
			Capabilities: append([]models.Capability(nil), e.Capabilities...),
		})
	}
	return w, nil
}

// MustNew is New for static tables known to be valid.
func MustNew(entries []models.ProviderEntry) *Whitelist {
	w, err := New(entries)
	if err != nil {
		panic(err)
	}
	return w
}

// Resolve returns the built-in whitelist for a deployment. Unknown values
// resolve to production.
func Resolve(d Deployment) *Whitelist {
	if d == DeploymentTest {
		return testWhitelist
	}
	return productionWhitelist
}

// Contains reports whether account is itself a whitelisted provider.
func (w *Whitelist) Contains(account models.AccountID) bool {
	_, ok := w.providers[models.ProviderID(account)]
	return ok
}

// Entries returns a copy of the provider entries in order.
func (w *Whitelist) Entries() []models.ProviderEntry {
	out := make([]models.ProviderEntry, len(w.entries))
	for i, e := range w.entries {
		out[i] = models.ProviderEntry{
			Provider:     e.Provider,
			Capabilities: append([]models.Capability(nil), e.Capabilities...),
		}
	}
	return out
}

// Capabilities returns every distinct capability in first-seen order.
func (w *Whitelist) Capabilities() []models.Capability {
	seen := make(map[models.Capability]struct{})
	var out []models.Capability
	for _, e := range w.entries {
		for _, c := range e.Capabilities {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// ProbeCount is the number of probes one run dispatches.
func (w *Whitelist) ProbeCount() int {
	n := 0
	for _, e := range w.entries {
		n += len(e.Capabilities)
	}
	return n
}

// Flatten lists the probes for account in whitelist order. Providers without
// capabilities contribute nothing.
func (w *Whitelist) Flatten(account models.AccountID) []models.ProbeDescriptor {
	out := make([]models.ProbeDescriptor, 0, w.ProbeCount())
	for _, e := range w.entries {
		for _, c := range e.Capabilities {
			out = append(out, models.ProbeDescriptor{
				Account:    account,
				Provider:   e.Provider,
				Capability: c,
			})
		}
	}
	return out
}

var productionWhitelist = MustNew([]models.ProviderEntry{
	{Provider: "asac.near", Capabilities: []models.Capability{models.CapabilityNFTCount}},
	{Provider: "kycdao.near"},
	{Provider: "nearnautnft.near", Capabilities: []models.Capability{models.CapabilityNFTCount}},
	{Provider: "secretskelliessociety.near", Capabilities: []models.Capability{models.CapabilityNFTCount}},
})

var testWhitelist = MustNew([]models.ProviderEntry{
	{Provider: "asac.test.near", Capabilities: []models.Capability{models.CapabilityNFTCount}},
	{Provider: "kycdao.test.near"},
	{Provider: "nearnautnft.test.near", Capabilities: []models.Capability{models.CapabilityNFTCount}},
	{Provider: "secretskelliessociety.test.near", Capabilities: []models.Capability{models.CapabilityNFTCount}},
})
