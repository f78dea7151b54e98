// Package consolidate groups promoted candidates into canonical facts and
// assigns each fact a maturity class. Classification is a pure function of
// the append-only evidence set: no in-place overwrite can ever change a
// fact's value without the evidence explaining why.
package consolidate

import (
	"math"
	"sort"

	"github.com/ppiankov/concord/internal/model"
)

// Aggregate computes the fact statistics the classifier reads.
func Aggregate(evidence []model.EvidenceRef) model.FactStats {
	stats := model.FactStats{Count: len(evidence)}
	if len(evidence) == 0 {
		return stats
	}

	docs := make(map[string]struct{})
	confidences := make([]float64, 0, len(evidence))
	negated, hedged, conditional := 0, 0, 0
	overflowOnly := true

	for _, ev := range evidence {
		docs[ev.DocumentID] = struct{}{}
		confidences = append(confidences, ev.Confidence)
		if ev.Negated {
			negated++
		}
		if ev.Hedged {
			hedged++
		}
		if ev.Conditional {
			conditional++
		}
		if !ev.Overflow {
			overflowOnly = false
		}
	}

	n := float64(len(evidence))
	stats.DistinctSources = len(docs)
	stats.MedianConfidence = median(confidences)
	stats.NegatedRatio = float64(negated) / n
	stats.HedgedRatio = float64(hedged) / n
	stats.ConditionalRatio = float64(conditional) / n
	stats.OverflowOnly = overflowOnly
	return stats
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Classify assigns the maturity for a fact's current evidence set.
//
// Precedence: contradiction beats everything (all variants stay visible,
// never a majority vote), then type ambiguity, then the validation gates.
// Every gate is monotonic: raising any badness ratio can only lower the
// result, never raise it.
func Classify(fact *model.CanonicalFact, cfg model.MaturityConfig) model.Maturity {
	if len(fact.Evidence) == 0 {
		// Caller deletes the fact; CANDIDATE here is never observable.
		return model.MaturityCandidate
	}

	if conflicting(fact) {
		return model.MaturityConflicting
	}

	if fact.Kind == model.KindRelation && typeAmbiguous(fact, cfg.AmbiguityDelta) {
		return model.MaturityAmbiguousType
	}

	// Corroboration is per value: sources must converge on the same value,
	// not merely touch the same subject and predicate. Two sources asserting
	// two different objects leave each value single-source.
	_, agreedDocs := fact.BestCorroborated()

	stats := fact.Stats
	validated := agreedDocs >= cfg.MinSources &&
		stats.NegatedRatio <= cfg.MaxNegated &&
		stats.HedgedRatio <= cfg.MaxHedged &&
		stats.ConditionalRatio <= cfg.MaxConditional &&
		stats.MedianConfidence >= cfg.MinValidatedMedian &&
		fact.ScopeOK &&
		!stats.OverflowOnly &&
		!fact.Quarantined()
	if validated {
		return model.MaturityValidated
	}
	return model.MaturityCandidate
}

// conflicting reports whether the evidence asserts incompatible values for
// the identical scope. For relations, the same object with opposing polarity
// is a contradiction (multiple distinct objects are not: a subject may
// require several things). For claims, any second distinct value or a
// polarity clash is incompatible, since an attribute holds one value per
// scope.
func conflicting(fact *model.CanonicalFact) bool {
	polarity := make(map[string]map[bool]struct{})
	values := make(map[string]struct{})
	for _, ev := range fact.Evidence {
		if polarity[ev.Value] == nil {
			polarity[ev.Value] = make(map[bool]struct{})
		}
		polarity[ev.Value][ev.Negated] = struct{}{}
		values[ev.Value] = struct{}{}
	}

	for _, p := range polarity {
		if len(p) > 1 {
			return true
		}
	}
	if fact.Kind != model.KindRelation && len(values) > 1 {
		return true
	}
	return false
}

// typeAmbiguous reports whether any contributor carries an alternate
// relation-type hypothesis within delta of its primary confidence. The type
// itself is uncertain then, so the fact can never validate or materialize.
func typeAmbiguous(fact *model.CanonicalFact, delta float64) bool {
	for _, ev := range fact.Evidence {
		if ev.AltRelation == "" {
			continue
		}
		if math.Abs(ev.Confidence-ev.AltConf) <= delta {
			return true
		}
	}
	return false
}
