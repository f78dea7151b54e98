// Package store defines the persistence ports the engine produces to. All
// writes are idempotent and keyed by stable ids so repeated consolidation
// runs never duplicate.
package store

import (
	"context"

	"github.com/ppiankov/concord/internal/model"
)

// DirectEdge is a directly navigable projection of a validated fact.
type DirectEdge struct {
	ID         string  `json:"id"` // Equals the fact id
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Scope      string  `json:"scope,omitempty"`
	Confidence float64 `json:"confidence"` // Median evidence confidence
	Sources    int     `json:"sources"`
}

// GraphStore is the graph persistence port.
type GraphStore interface {
	// UpsertConcept writes a concept node keyed by its id.
	UpsertConcept(ctx context.Context, concept model.Concept) error

	// UpsertFact writes a canonical fact node keyed by its deterministic id.
	UpsertFact(ctx context.Context, fact model.CanonicalFact) error

	// UpsertDirectEdge writes a navigable edge keyed by the fact id.
	UpsertDirectEdge(ctx context.Context, edge DirectEdge) error

	// DeleteDirectEdge removes a projected edge whose fact no longer
	// validates. Deleting a missing edge is a no-op.
	DeleteDirectEdge(ctx context.Context, id string) error

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// Passage is one retrievable text rendering of a validated fact.
type Passage struct {
	ID      string `json:"id"` // Equals the fact id
	Text    string `json:"text"`
	Subject string `json:"subject"`
	Scope   string `json:"scope,omitempty"`
}

// VectorStore is the optional retrieval persistence port. It receives only
// materialized VALIDATED facts: downstream retrieval treats its contents as
// authoritative passages, so unresolved or ambiguous facts never enter.
type VectorStore interface {
	// UpsertPassage writes a passage keyed by the fact id.
	UpsertPassage(ctx context.Context, p Passage) error

	// DeletePassage removes a passage whose fact no longer validates.
	DeletePassage(ctx context.Context, id string) error

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
