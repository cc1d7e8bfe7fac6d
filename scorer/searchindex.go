package scorer

import (
	"context"
	"encoding/json"
	"fmt"

	"pkgsignal.dev/analyzer/errkind"
	"pkgsignal.dev/analyzer/httpclient"
	"pkgsignal.dev/analyzer/store"
)

// HTTPSearchIndexer is the production SearchIndexer: a document id = name
// write/delete against a search engine's HTTP document API, via the same
// httpclient.Execute every other outbound call in this pipeline goes
// through.
type HTTPSearchIndexer struct {
	BaseURL string
}

func (idx *HTTPSearchIndexer) Index(ctx context.Context, doc store.ScoreDoc) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("scorer: marshaling score doc: %w", err)
	}

	req := httpclient.NewRequest("PUT", fmt.Sprintf("%s/%s", idx.BaseURL, doc.Name))
	req.JSONBody = string(body)
	resp, err := httpclient.Execute(ctx, req)
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, err)
	}
	if !resp.IsSuccess() {
		return errkind.New(errkind.TransientNetwork, fmt.Sprintf("search index: status %d indexing %s", resp.StatusCode, doc.Name))
	}
	return nil
}

func (idx *HTTPSearchIndexer) Remove(ctx context.Context, name string) error {
	req := httpclient.NewRequest("DELETE", fmt.Sprintf("%s/%s", idx.BaseURL, name))
	resp, err := httpclient.Execute(ctx, req)
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, err)
	}
	if !resp.IsSuccess() && resp.StatusCode != 404 {
		return errkind.New(errkind.TransientNetwork, fmt.Sprintf("search index: status %d removing %s", resp.StatusCode, name))
	}
	return nil
}
