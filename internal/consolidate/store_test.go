package consolidate

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/concord/internal/model"
)

func relationEdge(doc, subject string, rel model.RelationType, object string, conf float64, negated bool) *model.LinkedEdge {
	return &model.LinkedEdge{
		Candidate: &model.RawCandidate{
			ID:          uuid.New(),
			Kind:        model.KindRelation,
			Text:        fmt.Sprintf("%s %s %s", subject, rel, object),
			SubjectText: subject,
			ObjectText:  object,
			Relation:    rel,
			Confidence:  conf,
			Negated:     negated,
			Provenance:  model.Provenance{DocumentID: doc, Source: doc + ".txt"},
		},
		Concept:  &model.Concept{ID: uuid.New(), Name: subject, NormKey: subject},
		Accepted: true,
	}
}

func TestIngest_GroupsByFactKey(t *testing.T) {
	s := NewStore(nil)
	cfg := maturityCfg()

	_, err := s.Ingest(relationEdge("doc-a", "x", model.RelationRequires, "Y", 0.8, false), cfg)
	require.NoError(t, err)
	fact, err := s.Ingest(relationEdge("doc-b", "x", model.RelationRequires, "Y", 0.7, false), cfg)
	require.NoError(t, err)

	assert.Len(t, fact.Evidence, 2)
	assert.Equal(t, model.MaturityValidated, fact.Maturity)
	assert.Len(t, s.Facts(), 1)
}

func TestIngest_DuplicateCandidateIsNoOp(t *testing.T) {
	s := NewStore(nil)
	cfg := maturityCfg()

	edge := relationEdge("doc-a", "x", model.RelationRequires, "Y", 0.8, false)
	_, err := s.Ingest(edge, cfg)
	require.NoError(t, err)
	fact, err := s.Ingest(edge, cfg)
	require.NoError(t, err)

	assert.Len(t, fact.Evidence, 1)
}

func TestIngest_ContradictionSurfacesNeverOverwrites(t *testing.T) {
	// Two documents assert "X requires Y", a third asserts "X does not
	// require Y". The result is one CONFLICTING fact carrying all three
	// provenance entries; no silent override, no winner.
	s := NewStore(nil)
	cfg := maturityCfg()

	_, err := s.Ingest(relationEdge("doc-1", "x", model.RelationRequires, "Y", 0.85, false), cfg)
	require.NoError(t, err)
	fact, err := s.Ingest(relationEdge("doc-2", "x", model.RelationRequires, "Y", 0.80, false), cfg)
	require.NoError(t, err)
	assert.Equal(t, model.MaturityValidated, fact.Maturity)

	fact, err = s.Ingest(relationEdge("doc-3", "x", model.RelationRequires, "Y", 0.75, true), cfg)
	require.NoError(t, err)

	assert.Equal(t, model.MaturityConflicting, fact.Maturity)
	assert.Len(t, fact.Evidence, 3)
	docs := map[string]bool{}
	for _, e := range fact.Evidence {
		docs[e.DocumentID] = true
	}
	assert.Len(t, docs, 3, "every contributing document stays on the fact")

	// More agreeing evidence cannot silently re-validate past a surviving
	// contradiction.
	fact, err = s.Ingest(relationEdge("doc-4", "x", model.RelationRequires, "Y", 0.95, false), cfg)
	require.NoError(t, err)
	assert.Equal(t, model.MaturityConflicting, fact.Maturity)
}

func TestIngest_DirtyScopeSticks(t *testing.T) {
	s := NewStore(nil)
	cfg := maturityCfg()

	dirty := relationEdge("doc-a", "x", model.RelationRequires, "Y", 0.8, false)
	dirty.Candidate.Scope = "!!!"
	fact, err := s.Ingest(dirty, cfg)
	require.NoError(t, err)
	assert.False(t, fact.ScopeOK)

	clean := relationEdge("doc-b", "x", model.RelationRequires, "Y", 0.8, false)
	fact, err = s.Ingest(clean, cfg)
	require.NoError(t, err)

	// One unnormalizable contributor keeps the whole fact degraded.
	assert.False(t, fact.ScopeOK)
	assert.Equal(t, model.MaturityCandidate, fact.Maturity)
}

func TestIngest_ScopesAreDistinctFacts(t *testing.T) {
	s := NewStore(nil)
	cfg := maturityCfg()

	a := relationEdge("doc-a", "x", model.RelationRequires, "Y", 0.8, false)
	a.Candidate.Scope = "EU region"
	b := relationEdge("doc-b", "x", model.RelationRequires, "Y", 0.8, false)
	b.Candidate.Scope = "US region"

	_, err := s.Ingest(a, cfg)
	require.NoError(t, err)
	_, err = s.Ingest(b, cfg)
	require.NoError(t, err)

	assert.Len(t, s.Facts(), 2, "different scopes never group together")
}

func TestRetract(t *testing.T) {
	s := NewStore(nil)
	cfg := maturityCfg()

	a := relationEdge("doc-a", "x", model.RelationRequires, "Y", 0.8, false)
	b := relationEdge("doc-b", "x", model.RelationRequires, "Y", 0.8, true)
	_, err := s.Ingest(a, cfg)
	require.NoError(t, err)
	fact, err := s.Ingest(b, cfg)
	require.NoError(t, err)
	assert.Equal(t, model.MaturityConflicting, fact.Maturity)

	// Retracting the negated contributor resolves the conflict.
	require.NoError(t, s.Retract(b.Candidate.ID, cfg))
	fact, ok := s.Get(fact.Key)
	require.True(t, ok)
	assert.Len(t, fact.Evidence, 1)
	assert.Equal(t, model.MaturityCandidate, fact.Maturity)

	// Retracting the last contributor deletes the fact and reports the
	// invariant violation.
	err = s.Retract(a.Candidate.ID, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvariantViolation))
	_, ok = s.Get(fact.Key)
	assert.False(t, ok)
}

func TestRetract_DropsEntryForConcurrentWriters(t *testing.T) {
	s := NewStore(nil)
	cfg := maturityCfg()

	a := relationEdge("doc-a", "x", model.RelationRequires, "Y", 0.8, false)
	_, err := s.Ingest(a, cfg)
	require.NoError(t, err)
	key, _ := KeyFor(a)

	// Hold the entry pointer the way a concurrent batch would between the
	// map read and the entry lock.
	stale := s.entry(key.ID(), key, a, false)
	require.NotNil(t, stale)

	err = s.Retract(a.Candidate.ID, cfg)
	require.Error(t, err)

	stale.mu.Lock()
	dead := stale.dead
	stale.mu.Unlock()
	assert.True(t, dead, "holders of the dropped entry must re-fetch")

	// A later contribution lands in the live map, not the orphan.
	b := relationEdge("doc-b", "x", model.RelationRequires, "Y", 0.8, false)
	fact, err := s.Ingest(b, cfg)
	require.NoError(t, err)
	assert.Len(t, fact.Evidence, 1)
	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Len(t, got.Evidence, 1)
}

func TestStore_ConcurrentIngestAndRetract(t *testing.T) {
	// A retraction that empties the fact races with fresh ingests on the
	// same key. No concurrent contribution may vanish into a dropped entry.
	s := NewStore(nil)
	cfg := maturityCfg()

	first := relationEdge("doc-0", "x", model.RelationRequires, "Y", 0.8, false)
	_, err := s.Ingest(first, cfg)
	require.NoError(t, err)

	const n = 16
	others := make([]*model.LinkedEdge, n)
	for i := range others {
		others[i] = relationEdge(fmt.Sprintf("doc-%d", i+1), "x", model.RelationRequires, "Y", 0.8, false)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, e := range others {
			if _, err := s.Ingest(e, cfg); err != nil {
				t.Error(err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		// May empty the fact mid-stream; the invariant-violation error is
		// expected then.
		_ = s.Retract(first.Candidate.ID, cfg)
	}()
	wg.Wait()

	key, _ := KeyFor(first)
	fact, ok := s.Get(key)
	require.True(t, ok)
	assert.Len(t, fact.Evidence, n, "every concurrent contribution survives the retraction")
}

func TestRetract_UnknownCandidate(t *testing.T) {
	s := NewStore(nil)
	err := s.Retract(uuid.New(), maturityCfg())
	require.Error(t, err)
	assert.False(t, errors.Is(err, model.ErrInvariantViolation))
}

func TestIngest_ConcurrentSameKey(t *testing.T) {
	// Concurrent batches hitting the same grouping key serialize on the
	// per-fact lock; every contribution survives.
	s := NewStore(nil)
	cfg := maturityCfg()

	const n = 24
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			edge := relationEdge(fmt.Sprintf("doc-%d", i), "x", model.RelationRequires, "Y", 0.8, false)
			if _, err := s.Ingest(edge, cfg); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	facts := s.Facts()
	require.Len(t, facts, 1)
	assert.Len(t, facts[0].Evidence, n)
	assert.Equal(t, n, facts[0].Stats.DistinctSources)
}

func TestBySubject(t *testing.T) {
	s := NewStore(nil)
	cfg := maturityCfg()

	_, err := s.Ingest(relationEdge("doc-a", "x", model.RelationRequires, "Y", 0.8, false), cfg)
	require.NoError(t, err)
	_, err = s.Ingest(relationEdge("doc-a", "x", model.RelationUses, "Z", 0.8, false), cfg)
	require.NoError(t, err)
	_, err = s.Ingest(relationEdge("doc-a", "other", model.RelationRequires, "Y", 0.8, false), cfg)
	require.NoError(t, err)

	assert.Len(t, s.BySubject("x", ""), 2)
	assert.Len(t, s.BySubject("x", "requires"), 1)
	assert.Empty(t, s.BySubject("nobody", ""))
}
