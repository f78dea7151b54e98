package link

import (
	"context"
	"sort"

	"github.com/ppiankov/concord/internal/catalog"
	"github.com/ppiankov/concord/internal/model"
	"github.com/ppiankov/concord/internal/normalize"
)

// TokenMatcher is the deterministic offline matcher: token overlap between
// the candidate's subject/text and each concept's name. It is a degraded
// stand-in for a semantic matcher, useful when no inference provider is
// configured and for reproducible tests.
type TokenMatcher struct {
	// MinScore drops matches below this overlap fraction. Zero uses a
	// conservative default.
	MinScore float64
}

// NewTokenMatcher creates the offline matcher with the default floor.
func NewTokenMatcher() *TokenMatcher {
	return &TokenMatcher{MinScore: 0.5}
}

// Name identifies the matcher.
func (m *TokenMatcher) Name() string {
	return "token-overlap"
}

// MatchConcepts scores every snapshot concept by the fraction of its name
// tokens present in the candidate's subject (preferred) or full text.
// Output order is deterministic: score descending, then key ascending.
func (m *TokenMatcher) MatchConcepts(_ context.Context, cand *model.RawCandidate, snap *catalog.Snapshot) ([]Match, error) {
	minScore := m.MinScore
	if minScore <= 0 {
		minScore = 0.5
	}

	subject := cand.SubjectText
	if subject == "" {
		subject = cand.Text
	}

	var out []Match
	for i := range snap.Concepts {
		concept := &snap.Concepts[i]
		score := normalize.Overlap(subject, concept.Name)
		if textScore := normalize.Overlap(cand.Text, concept.Name); textScore > score {
			// Full-text overlap is weaker evidence than subject overlap.
			score = textScore * 0.8
		}
		if score < minScore {
			continue
		}
		out = append(out, Match{
			ConceptKey: concept.NormKey,
			Confidence: score,
			Rationale:  "token overlap with concept name",
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ConceptKey < out[j].ConceptKey
	})
	return out, nil
}
