// Package model holds the data shapes shared across the download →
// collect → evaluate pipeline (Manifest, RawPackageDoc, Downloaded,
// Collected), kept free of any component's own logic so downloader,
// collectors, evaluators, and the analysis engine can all depend on it
// without a cycle.
package model

import (
	"encoding/json"
	"time"
)

// PackageName is the registry-unique identifier for a package.
type PackageName = string

// RawPackageDoc is the opaque document fetched from the source registry:
// a version map plus a latest tag, maintainers, and per-version manifests.
// Never mutated, never stored locally.
type RawPackageDoc struct {
	Name        string                     `json:"name"`
	DistTags    map[string]string          `json:"dist-tags"`
	Versions    map[string]json.RawMessage `json:"versions"`
	Maintainers []Maintainer               `json:"maintainers"`
	Time        map[string]time.Time       `json:"time"`

	// Users is the registry's username → starred map, the only
	// star signal a registry document itself carries.
	Users map[string]bool `json:"users"`
}

type Maintainer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Repository is a normalized VCS pointer.
type Repository struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Manifest is the derived, normalized manifest of a package's latest
// version.
type Manifest struct {
	Name                string            `json:"name"`
	Version             string            `json:"version"`
	Description         string            `json:"description"`
	Repository          Repository        `json:"repository"`
	GitHead             string            `json:"gitHead,omitempty"`
	DistTarball         string            `json:"distTarball,omitempty"`
	License             string            `json:"license"`
	Keywords            []string          `json:"keywords"`
	Scripts             map[string]string `json:"scripts"`
	Dependencies        map[string]string `json:"dependencies"`
	DevDependencies     map[string]string `json:"devDependencies"`
	BundledDependencies []string          `json:"bundledDependencies"`
	Readme              string            `json:"readme"`
	Author              string            `json:"author,omitempty"`
	Contributors        []string          `json:"contributors,omitempty"`
	Engines             map[string]string `json:"engines,omitempty"`
	Homepage            string            `json:"homepage,omitempty"`
}

// Normalize applies the manifest invariants: name must be set, version
// defaults to 0.0.1, repository URL loses trailing slashes and a
// trailing ".git".
func (m *Manifest) Normalize(requestedName string) {
	if m.Name == "" {
		m.Name = requestedName
	}
	if m.Version == "" {
		m.Version = "0.0.1"
	}
	m.Repository.URL = normalizeRepoURL(m.Repository.URL)
}

func normalizeRepoURL(u string) string {
	if u == "" {
		return u
	}
	for len(u) > 0 && u[len(u)-1] == '/' {
		u = u[:len(u)-1]
	}
	if len(u) > 4 && u[len(u)-4:] == ".git" {
		u = u[:len(u)-4]
	}
	return u
}

// Downloaded is the local staging of one analysis's source code.
type Downloaded struct {
	RootDir           string
	PackageDir        string
	Source            string // "registry" | "repoHost" | "git"
	GitRef            string
	EffectiveManifest Manifest
	// HadLockfile records whether a lockfile was present before extraction
	// deleted it, since dependenciesHealth's "unlocked ranges" measure
	// needs to know that even though the file itself no longer exists.
	HadLockfile bool
	// ExtractedName is the name the downloaded package.json actually
	// carried before EffectiveManifest overrode it with the requested
	// name; empty when no package.json was found. The analysis engine's
	// repository-ownership guard compares this against the requested name
	// to detect a squatting package whose repository belongs to someone
	// else.
	ExtractedName string
}

// Collected is the accumulated output of every collector that succeeded
// for one package, keyed by collector name ("metadata", "registryStats",
// "github", "sourceAnalysis").
type Collected map[string]interface{}
