package model

import "github.com/google/uuid"

// CandidateKind categorizes an extracted unit.
type CandidateKind string

const (
	KindAssertion CandidateKind = "assertion" // Statement about a single concept
	KindRelation  CandidateKind = "relation"  // Typed relation between two concepts
	KindClaim     CandidateKind = "claim"     // Attribute/value claim about a concept
)

// RelationType is the closed vocabulary of relation predicates.
type RelationType string

const (
	RelationRequires RelationType = "requires"
	RelationEnables  RelationType = "enables"
	RelationPartOf   RelationType = "part_of"
	RelationUses     RelationType = "uses"
	RelationExcludes RelationType = "excludes"

	// RelationRelatedTo is the weak fallback predicate. It denotes "some
	// relation exists" rather than an actionable claim, so consolidation
	// quarantines it: capped at CANDIDATE, never materialized directly.
	RelationRelatedTo RelationType = "related_to"
)

// KnownRelation reports whether t belongs to the closed vocabulary.
func KnownRelation(t RelationType) bool {
	switch t {
	case RelationRequires, RelationEnables, RelationPartOf,
		RelationUses, RelationExcludes, RelationRelatedTo:
		return true
	}
	return false
}

// Provenance pins an extracted unit to its source span.
type Provenance struct {
	DocumentID string `json:"document_id"`        // Stable identifier of the source document
	Source     string `json:"source"`             // Origin label (file path, URL, feed name)
	Start      int    `json:"start"`              // Byte offset of the span start
	End        int    `json:"end"`                // Byte offset of the span end
	Excerpt    string `json:"excerpt,omitempty"`  // Verbatim span text
	Sentence   int    `json:"sentence,omitempty"` // Sentence index in source (0-based)
}

// RawCandidate is one extracted unit before consolidation. Immutable once
// created; it is superseded only by grouping into a CanonicalFact, never
// edited in place.
type RawCandidate struct {
	ID   uuid.UUID     `json:"id"`
	Kind CandidateKind `json:"kind"`

	Text     string `json:"text"`               // Candidate text as extracted
	Language string `json:"language,omitempty"` // Language of Text

	// Subject/object concept references. Nil when the adapter could not
	// resolve them; the linking engine decides the attachment then.
	SubjectID   *uuid.UUID `json:"subject_id,omitempty"`
	ObjectID    *uuid.UUID `json:"object_id,omitempty"`
	SubjectText string     `json:"subject_text,omitempty"` // Surface form when unresolved
	ObjectText  string     `json:"object_text,omitempty"`

	Relation RelationType `json:"relation,omitempty"` // Relation candidates only

	// Alternate relation-type hypothesis reported by the adapter. When its
	// confidence is within the ambiguity margin of the primary, the
	// consolidated fact is AMBIGUOUS_TYPE.
	AltRelation   RelationType `json:"alt_relation,omitempty"`
	AltConfidence float64      `json:"alt_confidence,omitempty"`

	Attribute string `json:"attribute,omitempty"` // Claim candidates only
	Value     string `json:"value,omitempty"`     // Claimed value
	Scope     string `json:"scope,omitempty"`     // Raw qualifying context (region, edition, ...)

	Confidence  float64 `json:"confidence"` // Adapter confidence in [0,1]; untrusted scale
	Negated     bool    `json:"negated"`
	Hedged      bool    `json:"hedged"`
	Conditional bool    `json:"conditional"`

	Provenance Provenance `json:"provenance"`
}

// TypeKey returns the promotion-policy key for the candidate: the relation
// predicate for relations, the kind otherwise.
func (c *RawCandidate) TypeKey() string {
	if c.Kind == KindRelation && c.Relation != "" {
		return string(c.Relation)
	}
	return string(c.Kind)
}

// LinkedEdge is the transient output of linking and rerank: one candidate
// attached to one concept with an adjusted score. Only accepted edges feed
// consolidation; edges are never persisted independently.
type LinkedEdge struct {
	Candidate *RawCandidate
	Concept   *Concept
	Semantic  float64 // Semantic-fit confidence from the matcher, pre-rerank
	Adjusted  float64 // Score after lexical bonus and saturation penalty
	Rationale string  // Short matcher explanation, kept for audit
	Overflow  bool    // True when routed to the overflow bucket
	Accepted  bool
}
