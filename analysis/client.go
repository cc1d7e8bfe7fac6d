package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pkgsignal.dev/analyzer/errkind"
	"pkgsignal.dev/analyzer/httpclient"
	"pkgsignal.dev/analyzer/model"
)

// RegistryClient fetches the opaque source-registry document for one
// package. An interface so Engine can be exercised against a fake in
// tests without a live registry.
type RegistryClient interface {
	FetchRawPackageDoc(ctx context.Context, name string) (*model.RawPackageDoc, error)
}

// HTTPRegistryClient is the production RegistryClient, grounded on the
// same httpclient.Execute call every other outbound request in this
// pipeline goes through.
type HTTPRegistryClient struct {
	BaseURL string
}

// allDocsRow mirrors the subset of a CouchDB _all_docs row this pipeline
// reads, the same shape store/query.go's EachAnalysisDoc pages through
// on the analysis side — the source registry is itself CouchDB-backed,
// so the same AllDocs idiom applies to listing every package name.
type allDocsRow struct {
	ID string `json:"id"`
}

type allDocsResponse struct {
	Rows []allDocsRow `json:"rows"`
}

// ListAllNames pages through the registry's _all_docs index and returns
// every package name, skipping design documents. Used by the
// enqueue-view operational command to backfill an empty analysis store.
func (c *HTTPRegistryClient) ListAllNames(ctx context.Context, pageSize int) ([]string, error) {
	var names []string
	startKey := ""
	for {
		url := fmt.Sprintf("%s/_all_docs?limit=%d", c.BaseURL, pageSize+1)
		if startKey != "" {
			url += fmt.Sprintf("&startkey=%q", startKey)
		}
		req := httpclient.NewRequest("GET", url)
		resp, err := httpclient.Execute(ctx, req)
		if err != nil {
			return names, errkind.Wrap(errkind.TransientNetwork, err)
		}
		if !resp.IsSuccess() {
			return names, errkind.New(errkind.TransientNetwork, fmt.Sprintf("registry: status %d listing packages", resp.StatusCode))
		}

		var page allDocsResponse
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return names, fmt.Errorf("analysis: decoding _all_docs page: %w", err)
		}

		rows := page.Rows
		if startKey != "" && len(rows) > 0 {
			rows = rows[1:] // drop the repeated startkey row
		}
		for _, row := range rows {
			if strings.HasPrefix(row.ID, "_design/") {
				continue
			}
			names = append(names, row.ID)
		}
		if len(page.Rows) <= pageSize {
			return names, nil
		}
		startKey = page.Rows[len(page.Rows)-1].ID
	}
}

func (c *HTTPRegistryClient) FetchRawPackageDoc(ctx context.Context, name string) (*model.RawPackageDoc, error) {
	req := httpclient.NewRequest("GET", fmt.Sprintf("%s/%s", c.BaseURL, name))
	resp, err := httpclient.Execute(ctx, req)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientNetwork, err)
	}
	if resp.StatusCode == 404 {
		return nil, errkind.New(errkind.PackageNotFound, name)
	}
	if !resp.IsSuccess() {
		return nil, errkind.New(errkind.TransientNetwork, fmt.Sprintf("registry: status %d for %s", resp.StatusCode, name))
	}

	var doc model.RawPackageDoc
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, errkind.Wrap(errkind.ManifestInvalid, err)
	}
	return &doc, nil
}
