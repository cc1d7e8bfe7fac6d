// Package analysis orchestrates one package's download → collect →
// evaluate → persist pipeline, the AnalysisEngine the spec names as the
// system's central coordinator. Nothing here talks to the network or disk
// directly except through Downloader, collectors, and Store, so the
// orchestration logic itself stays unit-testable against fakes.
package analysis

import (
	"context"
	"os"
	"time"

	"pkgsignal.dev/analyzer/collectors"
	"pkgsignal.dev/analyzer/common"
	"pkgsignal.dev/analyzer/downloader"
	"pkgsignal.dev/analyzer/errkind"
	"pkgsignal.dev/analyzer/evaluators"
	"pkgsignal.dev/analyzer/model"
	"pkgsignal.dev/analyzer/store"
	"pkgsignal.dev/analyzer/tokendealer"
)

// Config tunes one Engine's collector inputs and staging behavior.
type Config struct {
	StagingRoot      string
	RegistryStatsURL string
	IssueStatsURL    string
	VulnScannerURL   string
	GiteaToken       string
	GitlabToken      string

	// Blacklist maps a package name to an operator-supplied reason it
	// must never be analyzed (e.g. a known-malicious publish). Checked
	// before any network call.
	Blacklist map[string]string

	// GitRefOverrides maps a package name to a ref that replaces
	// whatever gitHead the manifest or registry reports, for packages
	// whose upstream tag is known to be wrong or missing.
	GitRefOverrides map[string]string
}

// Engine wires RegistryClient, Downloader, the collector Registry, and
// Store into the single analyze(name) operation.
type Engine struct {
	Registry   RegistryClient
	Collectors *collectors.Registry
	Dealer     *tokendealer.Dealer
	Store      *store.Store
	Config     Config

	// OnPackageNotFound, if set, is invoked after a PACKAGE_NOT_FOUND
	// analysis deletes the AnalysisDoc, so the caller can also remove the
	// corresponding ScoreDoc from the search index without this package
	// depending on scorer directly.
	OnPackageNotFound func(name string)
}

// New builds an Engine with the default collector registry.
func New(registry RegistryClient, dealer *tokendealer.Dealer, st *store.Store, cfg Config) *Engine {
	return &Engine{
		Registry:   registry,
		Collectors: collectors.Default(),
		Dealer:     dealer,
		Store:      st,
		Config:     cfg,
	}
}

// Analyze runs the full pipeline for name and persists the resulting
// AnalysisDoc, per spec §4.6. On an unrecoverable error it still persists
// a failed AnalysisDoc (except for PACKAGE_NOT_FOUND, which instead
// deletes any existing AnalysisDoc/ScoreDoc) and returns the error so
// callers can branch on errkind.Of.
func (e *Engine) Analyze(ctx context.Context, name string) (*store.AnalysisDoc, error) {
	if reason, blacklisted := e.Config.Blacklist[name]; blacklisted {
		common.Logger.WithField("package", name).WithField("reason", reason).
			Warn("analysis: package is blacklisted, skipping")
		return nil, nil
	}

	startedAt := time.Now()

	raw, err := e.Registry.FetchRawPackageDoc(ctx, name)
	if err != nil {
		if errkind.Is(err, errkind.PackageNotFound) {
			e.forgetPackage(ctx, name)
			if e.OnPackageNotFound != nil {
				e.OnPackageNotFound(name)
			}
			return nil, err
		}
		return e.persistFailure(ctx, name, startedAt, err)
	}

	manifest, err := buildManifest(*raw, name)
	if err != nil {
		return e.persistFailure(ctx, name, startedAt, err)
	}
	if ref, ok := e.Config.GitRefOverrides[name]; ok {
		manifest.GitHead = ref
	}

	downloaded, err := downloader.Download(ctx, manifest, downloader.Options{
		StagingRoot: e.Config.StagingRoot,
		GiteaToken:  e.Config.GiteaToken,
		GitlabToken: e.Config.GitlabToken,
	})
	if err != nil {
		return e.persistFailure(ctx, name, startedAt, err)
	}
	defer os.RemoveAll(downloaded.RootDir)

	names := e.collectorNames(name, *raw, manifest, downloaded)

	collected, err := collectors.RunAll(ctx, e.Collectors, collectors.Input{
		Name:             name,
		RawDoc:           *raw,
		Manifest:         manifest,
		Downloaded:       downloaded,
		GitRef:           downloaded.GitRef,
		Dealer:           e.Dealer,
		RegistryStatsURL: e.Config.RegistryStatsURL,
		IssueStatsURL:    e.Config.IssueStatsURL,
		VulnScannerURL:   e.Config.VulnScannerURL,
	}, names)
	if err != nil {
		return e.persistFailure(ctx, name, startedAt, err)
	}

	evaluation := evaluators.Evaluate(collected, manifest)

	doc := &store.AnalysisDoc{
		ID:         store.AnalysisDocID(name),
		Name:       name,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		Collected:  collected,
		Evaluation: &evaluation,
	}
	if existing, gerr := e.Store.GetAnalysisDoc(ctx, name); gerr == nil {
		doc.Rev = existing.Rev
	}
	if err := e.Store.PutAnalysisDoc(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// collectorNames applies the repository-ownership guard: when the
// downloaded source's own package.json names a different package than
// requested, GitHub and SourceAnalysis are dropped from the fan-out
// unless requester and repository owner plausibly share ownership.
func (e *Engine) collectorNames(requestedName string, raw model.RawPackageDoc, manifest model.Manifest, downloaded *model.Downloaded) []string {
	all := e.Collectors.Names()
	if !suspectedSquat(requestedName, downloaded.ExtractedName) {
		return all
	}

	owner := repoOwnerLogin(manifest.Repository.URL)
	if sharesOwnership(requestedName, raw.Maintainers, owner) {
		return all
	}

	common.Logger.WithField("package", requestedName).
		WithField("extractedName", downloaded.ExtractedName).
		Warn("analysis: repository-ownership guard triggered, skipping github/sourceAnalysis collectors")

	names := make([]string, 0, len(all))
	for _, n := range all {
		if n == model.CollectedGitHub || n == model.CollectedSourceAnalysis {
			continue
		}
		names = append(names, n)
	}
	return names
}

// persistFailure records an unrecoverable error as a failed AnalysisDoc
// and returns it alongside the original error, per spec §4.6/§7. An error
// of any other kind is returned as is, with no document written.
func (e *Engine) persistFailure(ctx context.Context, name string, startedAt time.Time, cause error) (*store.AnalysisDoc, error) {
	if !errkind.Of(cause).Unrecoverable() {
		return nil, cause
	}
	doc := &store.AnalysisDoc{
		ID:         store.AnalysisDocID(name),
		Name:       name,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		Error: &store.AnalysisError{
			Kind:    string(errkind.Of(cause)),
			Message: cause.Error(),
		},
	}
	if existing, gerr := e.Store.GetAnalysisDoc(ctx, name); gerr == nil {
		doc.Rev = existing.Rev
	}
	if err := e.Store.PutAnalysisDoc(ctx, doc); err != nil {
		common.Logger.WithError(err).WithField("package", name).Error("analysis: failed to persist failed AnalysisDoc")
	}
	return doc, cause
}

// forgetPackage deletes any existing AnalysisDoc for name, the
// PACKAGE_NOT_FOUND cleanup step. A missing document is not an error.
func (e *Engine) forgetPackage(ctx context.Context, name string) {
	existing, err := e.Store.GetAnalysisDoc(ctx, name)
	if err != nil {
		return
	}
	if err := e.Store.Delete(ctx, existing.ID, existing.Rev); err != nil {
		common.Logger.WithError(err).WithField("package", name).Warn("analysis: failed to delete AnalysisDoc on PACKAGE_NOT_FOUND")
	}
}
