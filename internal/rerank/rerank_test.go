package rerank

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/concord/internal/catalog"
	"github.com/ppiankov/concord/internal/model"
)

func testCfg() model.RerankConfig {
	return model.RerankConfig{
		TriggerBonus:    1.25,
		PartialBonus:    1.10,
		SaturationStart: 0.20,
		SaturationEnd:   0.50,
		SaturationFloor: 0.80,
		PostFloor:       0.45,
		WinnerMargin:    0.05,
		MaxPerUnit:      2,
	}
}

func concept(name string) *model.Concept {
	return &model.Concept{ID: uuid.New(), Name: name, NormKey: name}
}

// edge builds a non-overflow edge with a candidate whose text avoids any
// lexical bonus, so Adjusted depends on Semantic and saturation alone.
func edge(cand *model.RawCandidate, c *model.Concept, semantic float64) model.LinkedEdge {
	return model.LinkedEdge{Candidate: cand, Concept: c, Semantic: semantic}
}

func neutralCandidate() *model.RawCandidate {
	return &model.RawCandidate{
		ID:         uuid.New(),
		Kind:       model.KindAssertion,
		Text:       "xyzzy",
		Confidence: 0.9,
	}
}

func TestSaturation_Multiplier(t *testing.T) {
	cfg := testCfg()

	// Build a 10-win snapshot where one concept wins 5 times (share 0.5).
	hot := concept("hot")
	cold := concept("cold")
	var edges []model.LinkedEdge
	for i := 0; i < 5; i++ {
		edges = append(edges, edge(neutralCandidate(), hot, 0.9))
	}
	for i := 0; i < 5; i++ {
		edges = append(edges, edge(neutralCandidate(), cold, 0.9))
	}
	// Spread the cold wins over distinct concepts so only "hot" saturates.
	for i := 5; i < 10; i++ {
		edges[i].Concept = concept("cold")
	}

	sat := FreezeSaturation(edges, nil)
	assert.Equal(t, cfg.SaturationFloor, sat.Multiplier(hot.ID, cfg), "share at the end cap hits the floor")
	assert.Equal(t, 1.0, sat.Multiplier(edges[5].Concept.ID, cfg), "share below start is unpenalized")
}

func TestFreezeSaturation_SeedsFrozenAcceptedCounts(t *testing.T) {
	cfg := testCfg()

	cat := catalog.New(nil)
	hot, err := cat.GetOrCreate("hot", model.RoleEntity)
	require.NoError(t, err)
	cold, err := cat.GetOrCreate("cold", model.RoleEntity)
	require.NoError(t, err)
	cat.AddAccepted(hot.ID, 9)
	snap := cat.Snapshot()

	// One batch win on top of nine frozen links: share 10/10 floors "hot",
	// while "cold" stays untouched.
	hc, ok := snap.Lookup("hot")
	require.True(t, ok)
	sat := FreezeSaturation([]model.LinkedEdge{edge(neutralCandidate(), hc, 0.9)}, snap)
	assert.Equal(t, cfg.SaturationFloor, sat.Multiplier(hot.ID, cfg))
	assert.Equal(t, 1.0, sat.Multiplier(cold.ID, cfg))
}

func TestSaturation_MonotoneInShare(t *testing.T) {
	cfg := testCfg()
	hot := concept("hot")

	prev := 1.0
	for wins := 1; wins <= 10; wins++ {
		var edges []model.LinkedEdge
		for i := 0; i < wins; i++ {
			edges = append(edges, edge(neutralCandidate(), hot, 0.9))
		}
		for i := wins; i < 10; i++ {
			edges = append(edges, edge(neutralCandidate(), concept("other"), 0.9))
		}
		sat := FreezeSaturation(edges, nil)
		m := sat.Multiplier(hot.ID, cfg)
		assert.LessOrEqual(t, m, prev, "multiplier must not rise with share (wins=%d)", wins)
		assert.GreaterOrEqual(t, m, cfg.SaturationFloor)
		prev = m
	}
}

func TestFreezeSaturation_OverflowExcluded(t *testing.T) {
	bucket := &model.Concept{ID: uuid.New(), Name: "Unresolved", NormKey: model.OverflowKey}
	edges := []model.LinkedEdge{
		{Candidate: neutralCandidate(), Concept: bucket, Overflow: true},
		{Candidate: neutralCandidate(), Concept: bucket, Overflow: true},
	}
	sat := FreezeSaturation(edges, nil)
	assert.Equal(t, 1.0, sat.Multiplier(bucket.ID, testCfg()))
}

func TestRerank_WinnerMargin(t *testing.T) {
	r := New(testCfg(), nil)

	// Runner-up within the margin survives alongside the winner.
	cand := neutralCandidate()
	group := []model.LinkedEdge{
		edge(cand, concept("first"), 0.81),
		edge(cand, concept("second"), 0.80),
	}
	accepted := r.Rerank(group, FreezeSaturation(nil, nil))
	assert.Len(t, accepted, 2)

	// Outside the margin the best wins outright.
	cand = neutralCandidate()
	group = []model.LinkedEdge{
		edge(cand, concept("first"), 0.81),
		edge(cand, concept("second"), 0.60),
	}
	accepted = r.Rerank(group, FreezeSaturation(nil, nil))
	require.Len(t, accepted, 1)
	assert.Equal(t, "first", accepted[0].Concept.NormKey)
}

func TestRerank_MaxPerUnitCapsTies(t *testing.T) {
	r := New(testCfg(), nil)

	cand := neutralCandidate()
	group := []model.LinkedEdge{
		edge(cand, concept("a"), 0.80),
		edge(cand, concept("b"), 0.80),
		edge(cand, concept("c"), 0.80),
	}
	accepted := r.Rerank(group, FreezeSaturation(nil, nil))
	assert.Len(t, accepted, 2, "MaxPerUnit bounds even exact ties")
}

func TestRerank_PostFloor(t *testing.T) {
	r := New(testCfg(), nil)

	cand := neutralCandidate()
	group := []model.LinkedEdge{
		edge(cand, concept("weak"), 0.40),
	}
	accepted := r.Rerank(group, FreezeSaturation(nil, nil))
	assert.Empty(t, accepted)
}

func TestRerank_TriggerBonusPrefersSpecific(t *testing.T) {
	// "uses encryption" with a broad Security concept at 0.55 and a specific
	// Encryption concept at 0.82: after the margin cut only Encryption stays.
	r := New(testCfg(), nil)

	cand := &model.RawCandidate{
		ID:         uuid.New(),
		Kind:       model.KindAssertion,
		Text:       "the product uses encryption",
		Language:   "en",
		Confidence: 0.9,
	}
	specific := &model.Concept{
		ID: uuid.New(), Name: "Encryption", NormKey: "encryption",
		Triggers: []model.Trigger{{Text: "encryption", Language: "en"}},
	}
	broad := &model.Concept{ID: uuid.New(), Name: "Security", NormKey: "security"}

	group := []model.LinkedEdge{
		edge(cand, specific, 0.82),
		edge(cand, broad, 0.55),
	}
	accepted := r.Rerank(group, FreezeSaturation(nil, nil))
	require.Len(t, accepted, 1)
	assert.Equal(t, "encryption", accepted[0].Concept.NormKey)
	assert.Greater(t, accepted[0].Adjusted, 0.82, "word-boundary trigger earns the bonus")
}

func TestRerank_TriggerLanguageMustMatch(t *testing.T) {
	r := New(testCfg(), nil)

	cand := &model.RawCandidate{
		ID:         uuid.New(),
		Kind:       model.KindAssertion,
		Text:       "nutzt verschluesselung",
		Language:   "de",
		Confidence: 0.9,
	}
	c := &model.Concept{
		ID: uuid.New(), Name: "Confidentiality", NormKey: "confidentiality",
		Triggers: []model.Trigger{{Text: "verschluesselung", Language: "en"}},
	}
	group := []model.LinkedEdge{edge(cand, c, 0.60)}
	accepted := r.Rerank(group, FreezeSaturation(nil, nil))

	// Wrong-language trigger earns nothing: score stays at the semantic value.
	require.Len(t, accepted, 1)
	assert.InDelta(t, 0.60, accepted[0].Adjusted, 1e-9)
}

func TestRerank_OverflowAcceptedAsIs(t *testing.T) {
	r := New(testCfg(), nil)
	bucket := &model.Concept{ID: uuid.New(), Name: "Unresolved", NormKey: model.OverflowKey}

	group := []model.LinkedEdge{
		{Candidate: neutralCandidate(), Concept: bucket, Overflow: true},
	}
	accepted := r.Rerank(group, FreezeSaturation(group, nil))
	require.Len(t, accepted, 1)
	assert.True(t, accepted[0].Overflow)
	assert.True(t, accepted[0].Accepted)
	assert.Equal(t, 0.0, accepted[0].Adjusted)
}

func TestRerank_DeterministicUnderPermutation(t *testing.T) {
	cfg := testCfg()

	// A batch of candidates with competing edges. Reranking any permutation
	// must accept the identical edge set because saturation is frozen up
	// front and grouping is order-insensitive.
	concepts := []*model.Concept{concept("a"), concept("b"), concept("c")}
	var batch []model.LinkedEdge
	for i := 0; i < 12; i++ {
		cand := neutralCandidate()
		batch = append(batch,
			edge(cand, concepts[i%3], 0.85),
			edge(cand, concepts[(i+1)%3], 0.83),
		)
	}

	signature := func(edges []model.LinkedEdge) []string {
		var sig []string
		for _, e := range edges {
			sig = append(sig, e.Candidate.ID.String()+"/"+e.Concept.NormKey)
		}
		sort.Strings(sig)
		return sig
	}

	base := append([]model.LinkedEdge(nil), batch...)
	want := signature(New(cfg, nil).Rerank(base, FreezeSaturation(base, nil)))

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]model.LinkedEdge(nil), batch...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		got := signature(New(cfg, nil).Rerank(shuffled, FreezeSaturation(shuffled, nil)))
		require.Equal(t, want, got, "permutation %d changed the accepted set", trial)
	}
}
