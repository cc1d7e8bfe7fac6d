package collectors

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"pkgsignal.dev/analyzer/common"
	"pkgsignal.dev/analyzer/httpclient"
	"pkgsignal.dev/analyzer/model"
)

// MetadataCollector derives the Metadata record straight from
// RawPackageDoc + Manifest. Deterministic except for the outbound HEAD
// probes used to prune broken links.
type MetadataCollector struct{}

func (c *MetadataCollector) Name() string { return model.CollectedMetadata }

type rawVersionExtra struct {
	Author           json.RawMessage   `json:"author"`
	PeerDependencies map[string]string `json:"peerDependencies"`
	Deprecated       string            `json:"deprecated"`
	Bugs             json.RawMessage   `json:"bugs"`
}

func (c *MetadataCollector) Run(ctx context.Context, in Input) (interface{}, error) {
	m := in.Manifest

	var extra rawVersionExtra
	if raw, ok := in.RawDoc.Versions[m.Version]; ok {
		_ = json.Unmarshal(raw, &extra)
	}

	out := model.Metadata{
		Name:                m.Name,
		Version:             m.Version,
		Description:         m.Description,
		Publisher:           authorString(extra.Author),
		Maintainers:         in.RawDoc.Maintainers,
		Repository:          m.Repository,
		Homepage:            m.Homepage,
		License:             m.License,
		Keywords:            m.Keywords,
		Dependencies:        m.Dependencies,
		DevDependencies:     m.DevDependencies,
		PeerDependencies:    extra.PeerDependencies,
		BundledDependencies: m.BundledDependencies,
		HasTestScript:       hasMeaningfulTestScript(m.Scripts),
		Deprecated:          extra.Deprecated != "",
	}

	if t, ok := in.RawDoc.Time["created"]; ok {
		out.DateCreated = t.Format(time.RFC3339)
	}
	now, hasModified := in.RawDoc.Time["modified"]
	if hasModified {
		out.DateModified = now.Format(time.RFC3339)
	} else {
		now = time.Now()
	}

	for _, days := range []int{30, 180, 365} {
		out.Releases = append(out.Releases, releaseBucket(in.RawDoc, now, days))
	}

	out.Links = pruneLinks(ctx, buildLinks(m, extra))
	return &out, nil
}

// releaseBucket counts published versions whose release time (keyed by
// version string in RawDoc.Time) falls within the trailing N-day window
// ending at now, skipping the two reserved keys "created"/"modified".
func releaseBucket(doc model.RawPackageDoc, now time.Time, days int) model.ReleaseBucket {
	window := common.TrailingWindow(now, days)
	for version, t := range doc.Time {
		if version == "created" || version == "modified" {
			continue
		}
		common.SumInWindow(&window, t, 1)
	}
	return window
}

func authorString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	return ""
}

func hasMeaningfulTestScript(scripts map[string]string) bool {
	test, ok := scripts["test"]
	if !ok {
		return false
	}
	return !strings.Contains(test, "no test specified")
}

func buildLinks(m model.Manifest, extra rawVersionExtra) model.Links {
	links := model.Links{
		NPM:        "https://www.npmjs.com/package/" + m.Name,
		Homepage:   m.Homepage,
		Repository: webURLFromRepo(m.Repository.URL),
	}
	var bugs struct {
		URL string `json:"url"`
	}
	if len(extra.Bugs) > 0 {
		if err := json.Unmarshal(extra.Bugs, &bugs); err == nil {
			links.Bugs = bugs.URL
		} else {
			var s string
			if json.Unmarshal(extra.Bugs, &s) == nil {
				links.Bugs = s
			}
		}
	}
	return links
}

func webURLFromRepo(u string) string {
	u = strings.TrimPrefix(u, "git+")
	u = strings.TrimSuffix(u, ".git")
	return u
}

// pruneLinks HEAD-probes each non-empty link and drops it from the result
// if the probe fails or returns a client/server error.
func pruneLinks(ctx context.Context, links model.Links) model.Links {
	links.NPM = probe(ctx, links.NPM)
	links.Homepage = probe(ctx, links.Homepage)
	links.Repository = probe(ctx, links.Repository)
	links.Bugs = probe(ctx, links.Bugs)
	return links
}

func probe(ctx context.Context, url string) string {
	if url == "" {
		return ""
	}
	req := httpclient.NewRequest("HEAD", url)
	req.RetryCount = 0
	resp, err := httpclient.Execute(ctx, req)
	if err != nil || !resp.IsSuccess() {
		return ""
	}
	return url
}
