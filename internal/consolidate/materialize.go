package consolidate

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/concord/internal/logger"
	"github.com/ppiankov/concord/internal/model"
	"github.com/ppiankov/concord/internal/store"
)

// Materializer projects the canonical fact set into the persistence ports.
// The projection is a pure function of the current fact set, idempotent,
// and fully reconstructible from scratch: it carries no information absent
// from the facts themselves.
type Materializer struct {
	graph  store.GraphStore
	vector store.VectorStore // Optional; nil disables the retrieval port
	log    *logger.Logger
}

// NewMaterializer creates a materializer. vector may be nil.
func NewMaterializer(graph store.GraphStore, vector store.VectorStore, log *logger.Logger) *Materializer {
	if log == nil {
		log = logger.Nop()
	}
	return &Materializer{graph: graph, vector: vector, log: log}
}

// Summary reports what one materialization pass touched.
type Summary struct {
	Facts       int // Fact nodes upserted
	DirectEdges int // Navigable edges projected
	Passages    int // Retrieval passages written
}

// Run persists every fact and projects direct edges for the eligible ones.
// Eligible means VALIDATED, not quarantined, not overflow-fed. Everything
// else gets its previous projection removed, so the port state always
// mirrors the fact set exactly.
func (m *Materializer) Run(ctx context.Context, facts []model.CanonicalFact) (Summary, error) {
	var sum Summary
	for i := range facts {
		fact := &facts[i]
		if err := m.graph.UpsertFact(ctx, *fact); err != nil {
			return sum, fmt.Errorf("materialize: upsert fact %s: %w", fact.ID(), err)
		}
		sum.Facts++

		if materializable(fact) {
			edge := directEdge(fact)
			if err := m.graph.UpsertDirectEdge(ctx, edge); err != nil {
				return sum, fmt.Errorf("materialize: upsert edge %s: %w", edge.ID, err)
			}
			sum.DirectEdges++

			if m.vector != nil {
				if err := m.vector.UpsertPassage(ctx, passage(fact)); err != nil {
					return sum, fmt.Errorf("materialize: upsert passage %s: %w", fact.ID(), err)
				}
				sum.Passages++
			}
			continue
		}

		// Deletes are no-ops when nothing was projected, so this stays
		// idempotent for facts that never validated.
		if err := m.graph.DeleteDirectEdge(ctx, fact.ID()); err != nil {
			return sum, fmt.Errorf("materialize: delete edge %s: %w", fact.ID(), err)
		}
		if m.vector != nil {
			if err := m.vector.DeletePassage(ctx, fact.ID()); err != nil {
				return sum, fmt.Errorf("materialize: delete passage %s: %w", fact.ID(), err)
			}
		}
	}
	return sum, nil
}

// materializable gates direct projection: only validated, non-quarantined,
// non-overflow facts become navigable edges or retrieval passages.
func materializable(fact *model.CanonicalFact) bool {
	return fact.Maturity == model.MaturityValidated &&
		!fact.Quarantined() &&
		!fact.Stats.OverflowOnly &&
		fact.Key.Subject != model.OverflowKey
}

// directEdge renders the corroborated variant of a validated fact. A
// single-source side variant stays visible on the fact node's evidence but
// never becomes the navigable edge.
func directEdge(fact *model.CanonicalFact) store.DirectEdge {
	agreed, _ := fact.BestCorroborated()
	return store.DirectEdge{
		ID:         fact.ID(),
		Subject:    fact.Key.Subject,
		Predicate:  fact.Key.Predicate,
		Object:     agreed.Value,
		Scope:      fact.Key.Scope,
		Confidence: fact.Stats.MedianConfidence,
		Sources:    fact.Stats.DistinctSources,
	}
}

// passage renders a validated fact as an authoritative retrieval passage.
func passage(fact *model.CanonicalFact) store.Passage {
	var b strings.Builder
	b.WriteString(fact.Key.Subject)
	b.WriteString(" ")
	b.WriteString(fact.Key.Predicate)
	if agreed, _ := fact.BestCorroborated(); agreed.Value != "" {
		b.WriteString(" ")
		if agreed.Negated {
			b.WriteString("not ")
		}
		b.WriteString(agreed.Value)
	}
	if fact.Key.Scope != "" {
		fmt.Fprintf(&b, " (scope: %s)", fact.Key.Scope)
	}
	return store.Passage{
		ID:      fact.ID(),
		Text:    b.String(),
		Subject: fact.Key.Subject,
		Scope:   fact.Key.Scope,
	}
}
