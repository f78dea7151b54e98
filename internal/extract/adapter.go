// Package extract wraps the external inference call behind the extraction
// adapter port. The adapter is untrusted: its confidence scale may be
// uniformly high regardless of quality, so nothing downstream calibrates
// thresholds from it alone.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ppiankov/concord/internal/catalog"
	"github.com/ppiankov/concord/internal/model"
)

// Unit is one pre-chunked text unit handed to the adapter. Chunking itself
// is an external collaborator; the engine never splits documents.
type Unit struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Index      int    `json:"index"` // Unit index within the document
	Text       string `json:"text"`
	Language   string `json:"language,omitempty"`
}

// Adapter is the extraction port: one inference call per unit, returning raw
// candidate units against the given catalog snapshot. Implementations must
// honor ctx cancellation and apply their own declared timeout; a timeout or
// malformed response surfaces as an error wrapping model.ErrAdapterFailure
// and is recovered by the caller as "no candidates from this call".
type Adapter interface {
	// Name identifies the adapter implementation.
	Name() string

	// Extract returns zero or more raw candidates for the unit.
	Extract(ctx context.Context, unit Unit, snap *catalog.Snapshot) ([]model.RawCandidate, error)
}

// CacheKey derives the memoization key for an adapter response from the unit
// text and the catalog version, so catalog growth invalidates stale entries.
func CacheKey(unit Unit, catalogVersion uint64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x1f%s\x1f%d\x1f%d", unit.DocumentID, unit.Text, unit.Index, catalogVersion)))
	return "concord:extract:v1:" + hex.EncodeToString(h[:])
}
