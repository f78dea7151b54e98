package consolidate

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ppiankov/concord/internal/model"
)

func maturityCfg() model.MaturityConfig {
	return model.MaturityConfig{
		MinSources:         2,
		MaxNegated:         0.20,
		MaxHedged:          0.40,
		MaxConditional:     0.50,
		AmbiguityDelta:     0.05,
		MinValidatedMedian: 0.50,
	}
}

func ev(doc, value string, conf float64) model.EvidenceRef {
	return model.EvidenceRef{
		CandidateID: uuid.New(),
		DocumentID:  doc,
		Value:       value,
		Confidence:  conf,
	}
}

func relationFact(rel model.RelationType, evidence ...model.EvidenceRef) *model.CanonicalFact {
	f := &model.CanonicalFact{
		Key:      model.FactKey{Subject: "x", Predicate: string(rel)},
		Kind:     model.KindRelation,
		Relation: rel,
		Evidence: evidence,
		ScopeOK:  true,
	}
	f.Stats = Aggregate(f.Evidence)
	return f
}

func claimFact(evidence ...model.EvidenceRef) *model.CanonicalFact {
	f := &model.CanonicalFact{
		Key:      model.FactKey{Subject: "x", Predicate: "license"},
		Kind:     model.KindClaim,
		Evidence: evidence,
		ScopeOK:  true,
	}
	f.Stats = Aggregate(f.Evidence)
	return f
}

func TestAggregate(t *testing.T) {
	evidence := []model.EvidenceRef{
		{CandidateID: uuid.New(), DocumentID: "d1", Confidence: 0.9, Negated: true},
		{CandidateID: uuid.New(), DocumentID: "d1", Confidence: 0.5, Hedged: true},
		{CandidateID: uuid.New(), DocumentID: "d2", Confidence: 0.7, Overflow: true},
	}
	stats := Aggregate(evidence)

	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 2, stats.DistinctSources)
	assert.Equal(t, 0.7, stats.MedianConfidence)
	assert.InDelta(t, 1.0/3.0, stats.NegatedRatio, 1e-9)
	assert.InDelta(t, 1.0/3.0, stats.HedgedRatio, 1e-9)
	assert.False(t, stats.OverflowOnly)

	all := Aggregate([]model.EvidenceRef{{CandidateID: uuid.New(), DocumentID: "d1", Overflow: true}})
	assert.True(t, all.OverflowOnly)
}

func TestClassify_Validated(t *testing.T) {
	f := relationFact(model.RelationRequires,
		ev("doc-a", "certificate", 0.8),
		ev("doc-b", "certificate", 0.7),
	)
	assert.Equal(t, model.MaturityValidated, Classify(f, maturityCfg()))
}

func TestClassify_SingleSourceIsCandidate(t *testing.T) {
	f := relationFact(model.RelationRequires,
		ev("doc-a", "certificate", 0.9),
	)
	assert.Equal(t, model.MaturityCandidate, Classify(f, maturityCfg()))
}

func TestClassify_ClaimValueConflict(t *testing.T) {
	// Two sources, incompatible values for the identical scope: CONFLICTING,
	// and both variants stay visible.
	f := claimFact(
		ev("doc-a", "mit", 0.9),
		ev("doc-b", "gpl", 0.9),
	)
	assert.Equal(t, model.MaturityConflicting, Classify(f, maturityCfg()))
	assert.Len(t, f.Variants(), 2)
}

func TestClassify_RelationPolarityConflict(t *testing.T) {
	a := ev("doc-a", "certificate", 0.9)
	b := ev("doc-b", "certificate", 0.9)
	b.Negated = true
	f := relationFact(model.RelationRequires, a, b)

	assert.Equal(t, model.MaturityConflicting, Classify(f, maturityCfg()))
}

func TestClassify_RelationDistinctObjectsNoConflict(t *testing.T) {
	// A subject may require several different things.
	f := relationFact(model.RelationRequires,
		ev("doc-a", "certificate", 0.8),
		ev("doc-b", "handshake", 0.8),
	)
	assert.NotEqual(t, model.MaturityConflicting, Classify(f, maturityCfg()))
}

func TestClassify_PerValueCorroboration(t *testing.T) {
	// Two sources naming two different objects leave each value
	// single-source; nothing validates on subject-predicate traffic alone.
	f := relationFact(model.RelationRequires,
		ev("doc-a", "certificate", 0.8),
		ev("doc-b", "handshake", 0.8),
	)
	assert.Equal(t, model.MaturityCandidate, Classify(f, maturityCfg()))

	// A second source for one of the values corroborates it and validates.
	f = relationFact(model.RelationRequires,
		ev("doc-a", "certificate", 0.8),
		ev("doc-b", "handshake", 0.8),
		ev("doc-c", "certificate", 0.8),
	)
	assert.Equal(t, model.MaturityValidated, Classify(f, maturityCfg()))
	agreed, docs := f.BestCorroborated()
	assert.Equal(t, "certificate", agreed.Value)
	assert.Equal(t, 2, docs)
}

func TestClassify_ConflictBeatsValidationGates(t *testing.T) {
	// Plenty of agreeing evidence plus one contradiction: the contradiction
	// wins, never a majority vote.
	f := claimFact(
		ev("doc-a", "mit", 0.9),
		ev("doc-b", "mit", 0.9),
		ev("doc-c", "mit", 0.9),
		ev("doc-d", "gpl", 0.9),
	)
	assert.Equal(t, model.MaturityConflicting, Classify(f, maturityCfg()))
}

func TestClassify_AmbiguousType(t *testing.T) {
	a := ev("doc-a", "kafka", 0.62)
	a.Relation = model.RelationUses
	a.AltRelation = model.RelationRequires
	a.AltConf = 0.60
	b := ev("doc-b", "kafka", 0.80)
	f := relationFact(model.RelationUses, a, b)

	assert.Equal(t, model.MaturityAmbiguousType, Classify(f, maturityCfg()))

	// Widening the gap past the margin resolves the ambiguity.
	f.Evidence[0].AltConf = 0.40
	assert.NotEqual(t, model.MaturityAmbiguousType, Classify(f, maturityCfg()))
}

func TestClassify_NegationCeiling(t *testing.T) {
	a := ev("doc-a", "certificate", 0.8)
	b := ev("doc-b", "certificate", 0.8)
	c := ev("doc-c", "certificate", 0.8)
	c.Negated = true
	f := relationFact(model.RelationRequires, a, b, c)

	// One negated contributor in three breaches the 0.20 ceiling, but the
	// polarity clash on the same object is a conflict first.
	assert.Equal(t, model.MaturityConflicting, Classify(f, maturityCfg()))
}

func TestClassify_HedgingCeiling(t *testing.T) {
	a := ev("doc-a", "certificate", 0.8)
	a.Hedged = true
	b := ev("doc-b", "certificate", 0.8)
	b.Hedged = true
	c := ev("doc-c", "certificate", 0.8)
	f := relationFact(model.RelationRequires, a, b, c)

	assert.Equal(t, model.MaturityCandidate, Classify(f, maturityCfg()))
}

func TestClassify_OverflowNeverValidates(t *testing.T) {
	a := ev("doc-a", "", 0.9)
	a.Overflow = true
	b := ev("doc-b", "", 0.9)
	b.Overflow = true
	f := &model.CanonicalFact{
		Key:      model.FactKey{Subject: "mystery", Predicate: "assertion"},
		Kind:     model.KindAssertion,
		Evidence: []model.EvidenceRef{a, b},
		ScopeOK:  true,
	}
	f.Stats = Aggregate(f.Evidence)

	assert.Equal(t, model.MaturityCandidate, Classify(f, maturityCfg()))
}

func TestClassify_QuarantinedNeverValidates(t *testing.T) {
	f := relationFact(model.RelationRelatedTo,
		ev("doc-a", "kafka", 0.9),
		ev("doc-b", "kafka", 0.9),
	)
	assert.Equal(t, model.MaturityCandidate, Classify(f, maturityCfg()))
}

func TestClassify_DirtyScopeNeverValidates(t *testing.T) {
	f := relationFact(model.RelationRequires,
		ev("doc-a", "certificate", 0.8),
		ev("doc-b", "certificate", 0.8),
	)
	f.ScopeOK = false
	assert.Equal(t, model.MaturityCandidate, Classify(f, maturityCfg()))
}
