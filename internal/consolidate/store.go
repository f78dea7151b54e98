package consolidate

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/concord/internal/logger"
	"github.com/ppiankov/concord/internal/model"
	"github.com/ppiankov/concord/internal/normalize"
)

// factEntry pairs a fact with its serialization lock. Aggregation is
// serialized per grouping key, one lock per fact rather than a global lock,
// so unrelated facts never contend. The outer map lock guards only map
// structure, held for map operations alone.
type factEntry struct {
	mu   sync.Mutex
	dead bool // Retract dropped this entry; holders must re-fetch from the map
	fact model.CanonicalFact
}

// Store is the canonical-fact store: the only shared-mutable-state boundary
// between concurrently ingesting batches.
type Store struct {
	mu    sync.RWMutex
	facts map[string]*factEntry
	log   *logger.Logger
}

// NewStore creates an empty fact store.
func NewStore(log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		facts: make(map[string]*factEntry),
		log:   log,
	}
}

// entry returns the entry for a fact id, creating it when create is set
// (double-checked under the write lock).
func (s *Store) entry(id string, key model.FactKey, edge *model.LinkedEdge, create bool) *factEntry {
	s.mu.RLock()
	e := s.facts[id]
	s.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.facts[id]; e != nil {
		return e
	}
	e = &factEntry{
		fact: model.CanonicalFact{
			Key:      key,
			Kind:     edge.Candidate.Kind,
			Relation: edge.Candidate.Relation,
			ScopeOK:  true,
		},
	}
	s.facts[id] = e
	return e
}

// KeyFor derives the grouping key for an accepted edge. Scope normalization
// failure degrades the fact (dirty scope caps maturity) instead of aborting:
// the second return reports cleanliness.
func KeyFor(edge *model.LinkedEdge) (model.FactKey, bool) {
	cand := edge.Candidate

	subject := edge.Concept.NormKey
	if edge.Overflow {
		// Overflow facts still group by the raw subject so repeated
		// unmatched mentions of the same thing consolidate.
		if k := normalize.Key(cand.SubjectText); k != "" {
			subject = k
		}
	}

	var predicate string
	switch cand.Kind {
	case model.KindRelation:
		predicate = string(cand.Relation)
	case model.KindClaim:
		predicate = normalize.Key(cand.Attribute)
		if predicate == "" {
			predicate = "claim"
		}
	default:
		predicate = "assertion"
	}

	scope, err := normalize.Scope(cand.Scope)
	clean := true
	if err != nil {
		// Best-effort grouping under the degraded scope.
		scope = normalize.Key(cand.Scope)
		clean = false
	}

	return model.FactKey{Subject: subject, Predicate: predicate, Scope: scope}, clean
}

// evidenceFor converts an accepted edge into an evidence reference.
func evidenceFor(edge *model.LinkedEdge) model.EvidenceRef {
	cand := edge.Candidate

	var value, display string
	switch cand.Kind {
	case model.KindRelation:
		value = normalize.Key(cand.ObjectText)
		display = cand.ObjectText
	case model.KindClaim:
		value = normalize.Key(cand.Value)
		display = strings.TrimSpace(cand.Value)
	default:
		// Assertions carry no value; polarity alone distinguishes them.
	}

	return model.EvidenceRef{
		CandidateID: cand.ID,
		DocumentID:  cand.Provenance.DocumentID,
		Source:      cand.Provenance.Source,
		Value:       value,
		Object:      display,
		Confidence:  cand.Confidence,
		Negated:     cand.Negated,
		Hedged:      cand.Hedged,
		Conditional: cand.Conditional,
		Overflow:    edge.Overflow,
		Relation:    cand.Relation,
		AltRelation: cand.AltRelation,
		AltConf:     cand.AltConfidence,
	}
}

// Ingest appends an accepted, promoted edge to its canonical fact, creating
// the fact when absent, and re-evaluates maturity. Evidence is append-only;
// a duplicate candidate id is a no-op.
func (s *Store) Ingest(edge *model.LinkedEdge, cfg model.MaturityConfig) (model.CanonicalFact, error) {
	key, clean := KeyFor(edge)
	id := key.ID()

	for {
		e := s.entry(id, key, edge, true)
		e.mu.Lock()
		if e.dead {
			// A concurrent retraction emptied this entry between the map
			// read and the entry lock. Re-fetch so the contribution lands
			// in the live map instead of an orphan.
			e.mu.Unlock()
			continue
		}

		dup := false
		for _, ev := range e.fact.Evidence {
			if ev.CandidateID == edge.Candidate.ID {
				dup = true
				break
			}
		}
		if !dup {
			e.fact.Evidence = append(e.fact.Evidence, evidenceFor(edge))
			if !clean {
				// Dirty scope sticks: one unnormalizable contributor keeps
				// the fact below VALIDATED until curated.
				e.fact.ScopeOK = false
				s.log.Warn("scope normalization failed, fact degraded",
					"fact", id, "scope", edge.Candidate.Scope)
			}
			s.reclassify(&e.fact, cfg)
		}
		fact := copyFact(&e.fact)
		e.mu.Unlock()
		return fact, nil
	}
}

// Retract removes a candidate's evidence from whatever fact holds it, the
// curation path for resolving conflicts. A fact left with zero evidence
// violates the surviving-evidence invariant and is deleted, fatal to that
// fact only.
func (s *Store) Retract(candidateID uuid.UUID, cfg model.MaturityConfig) error {
	s.mu.RLock()
	entries := make([]*factEntry, 0, len(s.facts))
	for _, e := range s.facts {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		idx := -1
		for i, ev := range e.fact.Evidence {
			if ev.CandidateID == candidateID {
				idx = i
				break
			}
		}
		if idx < 0 {
			e.mu.Unlock()
			continue
		}

		e.fact.Evidence = append(e.fact.Evidence[:idx], e.fact.Evidence[idx+1:]...)
		if len(e.fact.Evidence) == 0 {
			// Marked dead while the entry lock is still held, so a writer
			// holding this pointer re-fetches instead of appending to an
			// entry no longer reachable from the map.
			id := e.fact.Key.ID()
			e.dead = true
			s.mu.Lock()
			delete(s.facts, id)
			s.mu.Unlock()
			e.mu.Unlock()
			s.log.Warn("fact deleted: no surviving evidence",
				"fact", id, "error", model.ErrInvariantViolation)
			return fmt.Errorf("%w: fact %s", model.ErrInvariantViolation, id)
		}
		s.reclassify(&e.fact, cfg)
		e.mu.Unlock()
		return nil
	}
	return fmt.Errorf("retract: candidate %s not found in any fact", candidateID)
}

// reclassify recomputes aggregates and maturity. Caller holds the entry lock.
func (s *Store) reclassify(fact *model.CanonicalFact, cfg model.MaturityConfig) {
	fact.Stats = Aggregate(fact.Evidence)
	prev := fact.Maturity
	fact.Maturity = Classify(fact, cfg)
	fact.UpdatedAt = time.Now().UTC()
	if prev != "" && prev != fact.Maturity {
		s.log.Info("fact maturity changed",
			"fact", fact.Key.ID(), "from", prev, "to", fact.Maturity,
			"evidence", len(fact.Evidence))
	}
}

// Get returns a copy of the fact for a grouping key.
func (s *Store) Get(key model.FactKey) (model.CanonicalFact, bool) {
	s.mu.RLock()
	e := s.facts[key.ID()]
	s.mu.RUnlock()
	if e == nil {
		return model.CanonicalFact{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyFact(&e.fact), true
}

// Facts returns copies of every fact in stable key order.
func (s *Store) Facts() []model.CanonicalFact {
	s.mu.RLock()
	entries := make([]*factEntry, 0, len(s.facts))
	for _, e := range s.facts {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]model.CanonicalFact, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, copyFact(&e.fact))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.ID() < out[j].Key.ID()
	})
	return out
}

// BySubject returns copies of facts whose subject matches the normalization
// key, optionally filtered by predicate ("" matches all).
func (s *Store) BySubject(subjectKey, predicate string) []model.CanonicalFact {
	var out []model.CanonicalFact
	for _, fact := range s.Facts() {
		if fact.Key.Subject != subjectKey {
			continue
		}
		if predicate != "" && fact.Key.Predicate != predicate {
			continue
		}
		out = append(out, fact)
	}
	return out
}

func copyFact(fact *model.CanonicalFact) model.CanonicalFact {
	cp := *fact
	cp.Evidence = append([]model.EvidenceRef(nil), fact.Evidence...)
	return cp
}
