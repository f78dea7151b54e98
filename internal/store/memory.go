package store

import (
	"context"
	"reflect"
	"sync"

	"github.com/ppiankov/concord/internal/model"
)

// MemoryGraph is the in-memory graph port, the default when no Neo4j URI is
// configured and the fixture for idempotency tests: Writes counts only
// state-changing operations, so re-running an unchanged projection leaves
// it untouched.
type MemoryGraph struct {
	mu       sync.Mutex
	Concepts map[string]model.Concept
	Facts    map[string]model.CanonicalFact
	Edges    map[string]DirectEdge
	Writes   int
}

// NewMemoryGraph creates an empty in-memory graph store.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		Concepts: make(map[string]model.Concept),
		Facts:    make(map[string]model.CanonicalFact),
		Edges:    make(map[string]DirectEdge),
	}
}

// UpsertConcept writes a concept node, counting only real changes.
func (g *MemoryGraph) UpsertConcept(_ context.Context, concept model.Concept) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := concept.ID.String()
	if have, ok := g.Concepts[key]; ok && reflect.DeepEqual(have, concept) {
		return nil
	}
	g.Concepts[key] = concept
	g.Writes++
	return nil
}

// UpsertFact writes a fact node, counting only real changes.
func (g *MemoryGraph) UpsertFact(_ context.Context, fact model.CanonicalFact) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fact.ID()
	if have, ok := g.Facts[id]; ok && equalFacts(have, fact) {
		return nil
	}
	g.Facts[id] = fact
	g.Writes++
	return nil
}

// UpsertDirectEdge writes a navigable edge, counting only real changes.
func (g *MemoryGraph) UpsertDirectEdge(_ context.Context, edge DirectEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if have, ok := g.Edges[edge.ID]; ok && have == edge {
		return nil
	}
	g.Edges[edge.ID] = edge
	g.Writes++
	return nil
}

// DeleteDirectEdge removes a projected edge; missing edges are a no-op.
func (g *MemoryGraph) DeleteDirectEdge(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.Edges[id]; !ok {
		return nil
	}
	delete(g.Edges, id)
	g.Writes++
	return nil
}

// Close is a no-op for the in-memory store.
func (g *MemoryGraph) Close(context.Context) error {
	return nil
}

// equalFacts compares facts ignoring the UpdatedAt timestamp, which changes
// on every reclassification without altering knowledge content.
func equalFacts(a, b model.CanonicalFact) bool {
	a.UpdatedAt = b.UpdatedAt
	return reflect.DeepEqual(a, b)
}

// MemoryVector is the in-memory retrieval port used in tests and offline
// runs.
type MemoryVector struct {
	mu       sync.Mutex
	Passages map[string]Passage
	Writes   int
}

// NewMemoryVector creates an empty in-memory vector store.
func NewMemoryVector() *MemoryVector {
	return &MemoryVector{Passages: make(map[string]Passage)}
}

// UpsertPassage writes a passage, counting only real changes.
func (v *MemoryVector) UpsertPassage(_ context.Context, p Passage) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if have, ok := v.Passages[p.ID]; ok && have == p {
		return nil
	}
	v.Passages[p.ID] = p
	v.Writes++
	return nil
}

// DeletePassage removes a passage; missing ids are a no-op.
func (v *MemoryVector) DeletePassage(_ context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.Passages[id]; !ok {
		return nil
	}
	delete(v.Passages, id)
	v.Writes++
	return nil
}

// Close is a no-op for the in-memory store.
func (v *MemoryVector) Close(context.Context) error {
	return nil
}
