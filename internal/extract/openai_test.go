package extract

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/concord/internal/model"
)

func testAdapter(t *testing.T) *OpenAIAdapter {
	t.Helper()
	a, err := NewOpenAIAdapter(model.AdapterConfig{
		Provider: "openai",
		APIKey:   "test-key",
		Timeout:  time.Second,
	}, nil)
	require.NoError(t, err)
	return a
}

func TestNewOpenAIAdapter_RequiresKey(t *testing.T) {
	_, err := NewOpenAIAdapter(model.AdapterConfig{Provider: "openai"}, nil)
	require.Error(t, err)
}

func TestParse_ValidResponse(t *testing.T) {
	a := testAdapter(t)
	unit := Unit{DocumentID: "doc-1", Source: "doc-1.txt", Index: 2, Language: "en"}

	content := `{"candidates": [
		{"kind": "relation", "text": "TLS requires a certificate", "start": 10, "end": 37,
		 "subject": "TLS", "object": "certificate", "relation": "requires",
		 "confidence": 0.9, "negated": false, "hedged": false, "conditional": false},
		{"kind": "claim", "text": "licensed under MIT", "subject": "the project",
		 "attribute": "license", "value": "MIT", "confidence": 0.8}
	]}`

	cands, err := a.parse(content, unit)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	rel := cands[0]
	assert.Equal(t, model.KindRelation, rel.Kind)
	assert.Equal(t, model.RelationRequires, rel.Relation)
	assert.Equal(t, "doc-1", rel.Provenance.DocumentID)
	assert.Equal(t, 10, rel.Provenance.Start)
	assert.Equal(t, 2, rel.Provenance.Sentence)
	assert.Equal(t, "en", rel.Language)

	claim := cands[1]
	assert.Equal(t, model.KindClaim, claim.Kind)
	assert.Equal(t, "license", claim.Attribute)
	assert.Equal(t, model.RelationType(""), claim.Relation)
}

func TestParse_OutOfVocabularyRelationCoerced(t *testing.T) {
	a := testAdapter(t)
	content := `{"candidates": [
		{"kind": "relation", "text": "A causes B", "subject": "A", "object": "B",
		 "relation": "causes", "confidence": 0.9}
	]}`

	cands, err := a.parse(content, Unit{DocumentID: "doc-1"})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, model.RelationRelatedTo, cands[0].Relation,
		"invented relation types collapse to the weak fallback")
}

func TestParse_DropsMalformedCandidates(t *testing.T) {
	a := testAdapter(t)
	content := `{"candidates": [
		{"kind": "opinion", "text": "x", "subject": "y", "confidence": 0.9},
		{"kind": "relation", "text": "x", "subject": "y", "relation": "requires", "confidence": 0.9},
		{"kind": "assertion", "text": "", "subject": "y", "confidence": 0.9},
		{"kind": "assertion", "text": "ok", "subject": "y", "confidence": 0.9}
	]}`

	cands, err := a.parse(content, Unit{DocumentID: "doc-1"})
	require.NoError(t, err)

	// Unknown kind, relation without object, and empty text all drop; the
	// one well-formed assertion survives.
	require.Len(t, cands, 1)
	assert.Equal(t, model.KindAssertion, cands[0].Kind)
}

func TestParse_ClampsConfidence(t *testing.T) {
	a := testAdapter(t)
	content := `{"candidates": [
		{"kind": "assertion", "text": "x", "subject": "y", "confidence": 1.7}
	]}`

	cands, err := a.parse(content, Unit{DocumentID: "doc-1"})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 1.0, cands[0].Confidence)
}

func TestParse_FencedJSON(t *testing.T) {
	a := testAdapter(t)
	content := "```json\n{\"candidates\": [{\"kind\": \"assertion\", \"text\": \"x\", \"subject\": \"y\", \"confidence\": 0.7}]}\n```"

	cands, err := a.parse(content, Unit{DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.Len(t, cands, 1)
}

func TestParse_MalformedResponseIsAdapterFailure(t *testing.T) {
	a := testAdapter(t)
	_, err := a.parse("I could not process this text.", Unit{DocumentID: "doc-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAdapterFailure))
}

func TestCacheKey(t *testing.T) {
	unit := Unit{DocumentID: "doc-1", Index: 0, Text: "some text"}

	assert.Equal(t, CacheKey(unit, 7), CacheKey(unit, 7))
	assert.NotEqual(t, CacheKey(unit, 7), CacheKey(unit, 8),
		"catalog growth invalidates memoized responses")

	other := unit
	other.Text = "different text"
	assert.NotEqual(t, CacheKey(unit, 7), CacheKey(other, 7))
}
