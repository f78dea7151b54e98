// Package policy holds the closed promotion table: whether an accepted
// candidate's content may be persisted at all. A pure function of candidate
// type and confidence. A high rerank score corrects concept choice, not the
// epistemic validity of the content, so it cannot bypass this gate.
package policy

import (
	"github.com/ppiankov/concord/internal/model"
)

// Promoter applies the promotion table to accepted edges.
type Promoter struct {
	table map[string]model.PromotionRule
}

// New creates a promoter over the configured table. Types absent from the
// table fall back to the conservative "rarely" rule.
func New(table map[string]model.PromotionRule) *Promoter {
	if table == nil {
		table = model.DefaultPromotionTable()
	}
	return &Promoter{table: table}
}

// fallbackRule guards unknown candidate types.
var fallbackRule = model.PromotionRule{Mode: model.PromoteRarely, Floor: 0.85}

// Promote reports whether a candidate of the given type and raw confidence
// may be persisted.
func (p *Promoter) Promote(typeKey string, confidence float64) bool {
	rule, ok := p.table[typeKey]
	if !ok {
		rule = fallbackRule
	}
	switch rule.Mode {
	case model.PromoteAlways:
		return true
	case model.PromoteFloor, model.PromoteRarely:
		return confidence >= rule.Floor
	case model.PromoteNever:
		return false
	default:
		return false
	}
}

// Filter returns the subset of accepted edges whose candidates promote.
func (p *Promoter) Filter(edges []model.LinkedEdge) []model.LinkedEdge {
	out := make([]model.LinkedEdge, 0, len(edges))
	for _, e := range edges {
		if !e.Accepted {
			continue
		}
		if p.Promote(e.Candidate.TypeKey(), e.Candidate.Confidence) {
			out = append(out, e)
		}
	}
	return out
}
