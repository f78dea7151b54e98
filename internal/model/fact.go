package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Maturity is the epistemic confidence class of a consolidated fact.
type Maturity string

const (
	// MaturityValidated: multiple independent sources agree on a compatible
	// value with low negation/hedging and a clean scope. Only validated
	// facts may be asserted directly.
	MaturityValidated Maturity = "VALIDATED"

	// MaturityCandidate: single source or weak corroboration. Surfaced as
	// probable but explicitly flagged unconfirmed.
	MaturityCandidate Maturity = "CANDIDATE"

	// MaturityConflicting: distinct sources assert incompatible values for
	// the identical scope. All variants are retained with provenance; no
	// winner is ever picked, not even by recency or count.
	MaturityConflicting Maturity = "CONFLICTING"

	// MaturityAmbiguousType: relation facts whose primary and alternate
	// type hypotheses sit within the ambiguity margin. The type itself is
	// uncertain, so the fact never validates and never materializes.
	MaturityAmbiguousType Maturity = "AMBIGUOUS_TYPE"
)

// FactKey is the corpus-wide grouping key for consolidation: every persisted
// candidate describing the same (subject, predicate-or-attribute, normalized
// scope) triple lands in the same CanonicalFact.
type FactKey struct {
	Subject   string `json:"subject"`   // Subject concept normalization key
	Predicate string `json:"predicate"` // Relation type or attribute name
	Scope     string `json:"scope"`     // Normalized qualifying context, "" when unscoped
}

// ID derives the stable canonical-fact identifier from the grouping key, so
// repeated consolidation runs write the same graph node.
func (k FactKey) ID() string {
	h := sha256.Sum256([]byte(k.Subject + "\x1f" + k.Predicate + "\x1f" + k.Scope))
	return "fact:" + hex.EncodeToString(h[:16])
}

// EvidenceRef is one contributing candidate inside a CanonicalFact.
// Provenance is never collapsed to a single winner; the full list survives.
type EvidenceRef struct {
	CandidateID uuid.UUID    `json:"candidate_id"`
	DocumentID  string       `json:"document_id"`
	Source      string       `json:"source"`
	Value       string       `json:"value,omitempty"`  // Object norm key or claimed value
	Object      string       `json:"object,omitempty"` // Object display name, for rendering
	Confidence  float64      `json:"confidence"`
	Negated     bool         `json:"negated"`
	Hedged      bool         `json:"hedged"`
	Conditional bool         `json:"conditional"`
	Overflow    bool         `json:"overflow"` // Came in via the overflow bucket
	Relation    RelationType `json:"relation,omitempty"`
	AltRelation RelationType `json:"alt_relation,omitempty"`
	AltConf     float64      `json:"alt_confidence,omitempty"`
}

// FactStats are the aggregates the maturity classifier reads.
type FactStats struct {
	Count            int     `json:"count"`
	DistinctSources  int     `json:"distinct_sources"`
	MedianConfidence float64 `json:"median_confidence"`
	NegatedRatio     float64 `json:"negated_ratio"`
	HedgedRatio      float64 `json:"hedged_ratio"`
	ConditionalRatio float64 `json:"conditional_ratio"`
	OverflowOnly     bool    `json:"overflow_only"` // Every contributor arrived via overflow
}

// ValueVariant is one distinct asserted value with its supporting evidence,
// exposed so CONFLICTING facts can present every alternative.
type ValueVariant struct {
	Value    string        `json:"value"`
	Negated  bool          `json:"negated"`
	Evidence []EvidenceRef `json:"evidence"`
}

// CanonicalFact is the consolidated knowledge unit: an append-only evidence
// list plus aggregates and a maturity class recomputed on every new
// contribution. A fact with zero surviving evidence is deleted, never left
// orphaned.
type CanonicalFact struct {
	Key       FactKey       `json:"key"`
	Kind      CandidateKind `json:"kind"`
	Relation  RelationType  `json:"relation,omitempty"` // Relation facts only
	Evidence  []EvidenceRef `json:"evidence"`
	Stats     FactStats     `json:"stats"`
	Maturity  Maturity      `json:"maturity"`
	ScopeOK   bool          `json:"scope_ok"` // False when scope normalization failed
	UpdatedAt time.Time     `json:"updated_at"`
}

// ID returns the deterministic fact identifier.
func (f *CanonicalFact) ID() string {
	return f.Key.ID()
}

// Variants groups the evidence by (value, polarity). Order follows first
// appearance in the evidence list, so output is stable across runs.
func (f *CanonicalFact) Variants() []ValueVariant {
	type vkey struct {
		value   string
		negated bool
	}
	index := make(map[vkey]int)
	var out []ValueVariant
	for _, ev := range f.Evidence {
		k := vkey{value: ev.Value, negated: ev.Negated}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, ValueVariant{Value: ev.Value, Negated: ev.Negated})
		}
		out[i].Evidence = append(out[i].Evidence, ev)
	}
	return out
}

// BestCorroborated returns the value variant supported by the most distinct
// documents, together with that document count. Ties keep the earlier
// variant, so the choice is stable across runs.
func (f *CanonicalFact) BestCorroborated() (ValueVariant, int) {
	var best ValueVariant
	bestDocs := 0
	for _, v := range f.Variants() {
		docs := make(map[string]struct{})
		for _, ev := range v.Evidence {
			docs[ev.DocumentID] = struct{}{}
		}
		if len(docs) > bestDocs {
			best = v
			bestDocs = len(docs)
		}
	}
	return best, bestDocs
}

// Quarantined reports whether the fact's predicate is the weak fallback
// relation, which never materializes directly.
func (f *CanonicalFact) Quarantined() bool {
	return f.Kind == KindRelation && f.Relation == RelationRelatedTo
}
