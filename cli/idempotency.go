package cli

import (
	"time"

	"pkgsignal.dev/analyzer/store"
)

// shouldSkipAnalysis implements spec §8's idempotency rule: a message is
// skipped when a stored AnalysisDoc's startedAt is already at or past the
// message's pushedAt, meaning a later or concurrent run already covers
// this push. existing is nil when no AnalysisDoc has ever been written.
func shouldSkipAnalysis(existing *store.AnalysisDoc, pushedAt time.Time) bool {
	if existing == nil {
		return false
	}
	return !existing.StartedAt.Before(pushedAt)
}
