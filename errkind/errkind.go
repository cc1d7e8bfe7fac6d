// Package errkind classifies pipeline errors into the closed set of kinds
// the rest of the system branches on, grounded on the {ErrorType, Reason}
// shape CouchDBError uses in the teacher's db package.
package errkind

import "errors"

// Kind is a closed enum of error classifications. It is not a Go error
// type itself; Wrap attaches a Kind to a regular error via KindError.
type Kind string

const (
	// PackageNotFound: the source registry has no such package.
	// Unrecoverable; triggers deletion of AnalysisDoc/ScoreDoc.
	PackageNotFound Kind = "PACKAGE_NOT_FOUND"

	// NameMismatch: the manifest name does not match the requested package.
	NameMismatch Kind = "NAME_MISMATCH"

	// ManifestInvalid: the manifest could not be built from the raw document.
	ManifestInvalid Kind = "MANIFEST_INVALID"

	// TarballTooLarge: the downloaded archive exceeded the configured size cap.
	TarballTooLarge Kind = "TARBALL_TOO_LARGE"

	// TooManyFiles: extraction exceeded the configured maxFiles.
	TooManyFiles Kind = "TOO_MANY_FILES"

	// MalformedArchive: the tarball could not be parsed.
	MalformedArchive Kind = "MALFORMED_ARCHIVE"

	// CollectorTolerated: a collector failed in a way that simply omits its
	// key from Collected; analysis proceeds.
	CollectorTolerated Kind = "COLLECTOR_TOLERATED"

	// CollectorFatal: a collector exhausted its retries; the whole analysis
	// is retried by the queue up to maxRetries.
	CollectorFatal Kind = "COLLECTOR_FATAL"

	// TransientNetwork: a retryable network condition, handled by HTTPClient
	// within a single call; escalates to CollectorFatal beyond retries.
	TransientNetwork Kind = "TRANSIENT_NETWORK"

	// Conflict: an optimistic-concurrency document write lost a race.
	Conflict Kind = "CONFLICT"

	// PersistenceFatal: a document write exhausted its conflict retries.
	PersistenceFatal Kind = "PERSISTENCE_FATAL"

	// NoTokensAvailable: every token in a TokenDealer group is exhausted.
	NoTokensAvailable Kind = "NO_TOKENS_AVAILABLE"
)

// Unrecoverable reports whether an error of this kind should short-circuit
// analysis, be persisted as a failed AnalysisDoc, and never be requeued.
func (k Kind) Unrecoverable() bool {
	switch k {
	case PackageNotFound, NameMismatch, ManifestInvalid, TarballTooLarge, TooManyFiles, MalformedArchive:
		return true
	default:
		return false
	}
}

// KindError pairs a Kind with the underlying cause, mirroring the
// {error, reason} shape of CouchDBError in the teacher's db package.
type KindError struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *KindError) Error() string {
	if e.Reason != "" {
		return string(e.Kind) + ": " + e.Reason
	}
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *KindError) Unwrap() error { return e.Cause }

// New constructs a KindError from a kind and a human-readable reason.
func New(kind Kind, reason string) error {
	return &KindError{Kind: kind, Reason: reason}
}

// Wrap attaches kind to an existing error, preserving it for errors.Unwrap.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Cause: err}
}

// Of extracts the Kind from err, or "" if err was not constructed via this
// package. Callers branch on this instead of string-matching error text.
func Of(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ""
}

// Is reports whether err was constructed (directly or wrapped) with kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
