package model

import "errors"

// Error taxonomy. Callers classify with errors.Is; every path that recovers
// from one of these must log the recovery so no persisted fact changes
// without provenance explaining why.
var (
	// ErrAdapterFailure covers extraction adapter timeouts and malformed
	// output. Recovered locally as zero candidates, never fatal to a batch.
	ErrAdapterFailure = errors.New("extraction adapter failure")

	// ErrCatalogContention signals concurrent concept creation for the same
	// normalization key. Recovered by retry-after-lock, never by allowing
	// duplicates.
	ErrCatalogContention = errors.New("concept catalog contention")

	// ErrScopeNormalization signals an unnormalizable scope string. The
	// affected fact degrades to a weaker maturity bound; the batch proceeds.
	ErrScopeNormalization = errors.New("scope normalization failure")

	// ErrInvariantViolation signals a CanonicalFact with no surviving
	// evidence. Fatal to that fact only: deleted and logged.
	ErrInvariantViolation = errors.New("consolidation invariant violation")

	// ErrNoKnowledge is the query surface's explicit "no structured
	// knowledge found" signal, distinct from "found but contested".
	ErrNoKnowledge = errors.New("no structured knowledge found")
)
