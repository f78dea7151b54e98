// Package rerank applies the two multiplicative corrections that keep raw
// matcher confidence from favoring broad concepts: a lexical-specificity
// bonus and a saturation penalty, followed by the winner-margin cut that
// bounds accepted edges per candidate.
package rerank

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ppiankov/concord/internal/catalog"
	"github.com/ppiankov/concord/internal/logger"
	"github.com/ppiankov/concord/internal/model"
	"github.com/ppiankov/concord/internal/normalize"
)

// Saturation is the frozen per-batch win-count ledger: the snapshot's
// accepted-link counts plus this batch's provisional winners. Freezing at
// batch start makes the penalty order-independent: the same batch in any
// candidate order yields the same accepted edge set.
type Saturation struct {
	wins  map[uuid.UUID]int
	total int
}

// FreezeSaturation seeds the ledger with the snapshot's frozen accepted-link
// counts (nil snap starts from zero), then computes each candidate's
// provisional winner (highest semantic score, stable tie-break) and counts
// wins per concept. Overflow edges never count: the bucket is capped
// elsewhere, not penalized here.
func FreezeSaturation(edges []model.LinkedEdge, snap *catalog.Snapshot) *Saturation {
	best := make(map[uuid.UUID]*model.LinkedEdge)
	for i := range edges {
		e := &edges[i]
		if e.Overflow {
			continue
		}
		cur, ok := best[e.Candidate.ID]
		if !ok || e.Semantic > cur.Semantic ||
			(e.Semantic == cur.Semantic && e.Concept.NormKey < cur.Concept.NormKey) {
			best[e.Candidate.ID] = e
		}
	}

	s := &Saturation{wins: make(map[uuid.UUID]int)}
	if snap != nil {
		for i := range snap.Concepts {
			c := &snap.Concepts[i]
			if c.AcceptedLinks > 0 {
				s.wins[c.ID] += c.AcceptedLinks
			}
		}
		s.total += snap.TotalAccepted()
	}
	for _, e := range best {
		s.wins[e.Concept.ID]++
		s.total++
	}
	return s
}

// Multiplier returns the saturation multiplier for a concept under cfg:
// 1.0 up to the start share, shrinking linearly to the floor at the end
// share, capped there. A soft brake, never an outright kill.
func (s *Saturation) Multiplier(conceptID uuid.UUID, cfg model.RerankConfig) float64 {
	if s == nil || s.total == 0 {
		return 1.0
	}
	share := float64(s.wins[conceptID]) / float64(s.total)
	switch {
	case share <= cfg.SaturationStart:
		return 1.0
	case share >= cfg.SaturationEnd:
		return cfg.SaturationFloor
	default:
		span := cfg.SaturationEnd - cfg.SaturationStart
		return 1.0 - (1.0-cfg.SaturationFloor)*(share-cfg.SaturationStart)/span
	}
}

// Reranker adjusts edge scores and emits the accepted edge set.
type Reranker struct {
	cfg model.RerankConfig
	log *logger.Logger
}

// New creates a reranker.
func New(cfg model.RerankConfig, log *logger.Logger) *Reranker {
	if log == nil {
		log = logger.Nop()
	}
	return &Reranker{cfg: cfg, log: log}
}

// Rerank scores every edge against the frozen saturation snapshot, filters
// by the post-rerank floor, and applies the winner-margin top-k cut per
// candidate. The input slice is annotated in place (Adjusted, Accepted) and
// the accepted subset is returned in deterministic order.
func (r *Reranker) Rerank(edges []model.LinkedEdge, sat *Saturation) []model.LinkedEdge {
	// Group per candidate preserving first-seen order for determinism.
	order := make([]uuid.UUID, 0, len(edges))
	grouped := make(map[uuid.UUID][]*model.LinkedEdge)
	for i := range edges {
		e := &edges[i]
		if _, seen := grouped[e.Candidate.ID]; !seen {
			order = append(order, e.Candidate.ID)
		}
		grouped[e.Candidate.ID] = append(grouped[e.Candidate.ID], e)
	}

	var accepted []model.LinkedEdge
	for _, id := range order {
		group := grouped[id]

		// Overflow routing bypasses scoring: the edge is accepted as-is so
		// the unit stays auditable, and consolidation caps it downstream.
		if len(group) == 1 && group[0].Overflow {
			group[0].Adjusted = 0
			group[0].Accepted = true
			accepted = append(accepted, *group[0])
			continue
		}

		for _, e := range group {
			bonus := r.lexicalBonus(e.Candidate, e.Concept)
			mult := sat.Multiplier(e.Concept.ID, r.cfg)
			e.Adjusted = clamp01(e.Semantic * bonus * mult)
		}

		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Adjusted != group[j].Adjusted {
				return group[i].Adjusted > group[j].Adjusted
			}
			return group[i].Concept.NormKey < group[j].Concept.NormKey
		})

		kept := 0
		var bestScore float64
		for _, e := range group {
			if e.Adjusted < r.cfg.PostFloor {
				break
			}
			if kept == 0 {
				bestScore = e.Adjusted
			} else {
				// Runner-ups survive only within the winner margin;
				// otherwise the best wins outright.
				if kept >= r.cfg.MaxPerUnit || bestScore-e.Adjusted > r.cfg.WinnerMargin {
					break
				}
			}
			e.Accepted = true
			accepted = append(accepted, *e)
			kept++
		}

		if kept == 0 {
			r.log.Debug("no edge survived rerank for candidate", "candidate", id)
		}
	}
	return accepted
}

// lexicalBonus rewards literal evidence: strongest for a word-boundary
// trigger match in the same language, smaller for partial token overlap
// with the concept name, none otherwise.
func (r *Reranker) lexicalBonus(cand *model.RawCandidate, concept *model.Concept) float64 {
	for _, t := range concept.Triggers {
		if !sameLanguage(t.Language, cand.Language) {
			// Triggers never fire across translation or paraphrase.
			continue
		}
		if normalize.ContainsWord(cand.Text, t.Text) {
			return r.cfg.TriggerBonus
		}
	}
	if normalize.Overlap(cand.Text, concept.Name) > 0 {
		return r.cfg.PartialBonus
	}
	return 1.0
}

// sameLanguage compares language tags. An unspecified trigger language
// applies to any candidate; a specified one must match exactly.
func sameLanguage(trigger, candidate string) bool {
	if trigger == "" {
		return true
	}
	return strings.EqualFold(trigger, candidate)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
