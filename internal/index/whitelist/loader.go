package whitelist

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trustindex/internal/index/models"
)

// fileFormat is the on-disk layout. Providers are a list, not a map, so
// probe order survives a round trip through YAML.
//
//	providers:
//	  - id: asac.near
//	    capabilities: [nft_supply_for_owner]
//	  - id: kycdao.near
type fileFormat struct {
	Providers []struct {
		ID           string   `yaml:"id"`
		Capabilities []string `yaml:"capabilities"`
	} `yaml:"providers"`
}

// Load reads a whitelist file.
func Load(path string) (*Whitelist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read whitelist: %w", err)
	}
	return Parse(b)
}

// Parse decodes a whitelist document.
func Parse(b []byte) (*Whitelist, error) {
	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse whitelist: %w", err)
	}
	entries := make([]models.ProviderEntry, 0, len(f.Providers))
	for _, p := range f.Providers {
		caps := make([]models.Capability, 0, len(p.Capabilities))
		for _, c := range p.Capabilities {
			caps = append(caps, models.Capability(c))
		}
		entries = append(entries, models.ProviderEntry{
			Provider:     models.ProviderID(p.ID),
			Capabilities: caps,
		})
	}
	w, err := New(entries)
	if err != nil {
		return nil, fmt.Errorf("validate whitelist: %w", err)
	}
	return w, nil
}
