// Package collectors gathers the independent, per-package signal sources
// (Metadata, RegistryStats, GitHub, SourceAnalysis) that feed the
// evaluators. Collectors are looked up by name in a static Registry,
// replacing the directory-of-modules/CanHandle dispatch the original
// executor used with a name-keyed lookup — the fan-out here is typed and
// fixed, so runtime polymorphism buys nothing.
package collectors

import (
	"context"

	"pkgsignal.dev/analyzer/model"
	"pkgsignal.dev/analyzer/tokendealer"
)

// Input is everything a collector might need; individual collectors use
// only the fields relevant to them.
type Input struct {
	Name       string
	RawDoc     model.RawPackageDoc
	Manifest   model.Manifest
	Downloaded *model.Downloaded
	GitRef     string

	Dealer *tokendealer.Dealer

	RegistryStatsURL string
	IssueStatsURL    string
	VulnScannerURL   string
}

// Collector produces one keyed entry of a package's Collected record.
type Collector interface {
	Name() string
	Run(ctx context.Context, in Input) (interface{}, error)
}

// Registry is a static name → Collector lookup.
type Registry struct {
	entries map[string]Collector
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Collector)}
}

// Register adds c under its own Name(), overwriting any prior entry.
func (r *Registry) Register(c Collector) {
	r.entries[c.Name()] = c
}

// Get looks up a collector by name.
func (r *Registry) Get(name string) (Collector, bool) {
	c, ok := r.entries[name]
	return c, ok
}

// Names lists every registered collector name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Default builds the registry with the four standard collectors wired in.
func Default() *Registry {
	r := NewRegistry()
	r.Register(&MetadataCollector{})
	r.Register(&RegistryStatsCollector{})
	r.Register(&GitHubCollector{})
	r.Register(&SourceAnalysisCollector{})
	return r
}
