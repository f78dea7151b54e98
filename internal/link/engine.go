// Package link implements the linking engine: deciding which canonical
// concept(s) each raw candidate attaches to. Matcher confidence reflects
// semantic fit only; lexical evidence is scored separately during rerank and
// never fused here.
package link

import (
	"context"
	"errors"
	"sort"

	"github.com/ppiankov/concord/internal/catalog"
	"github.com/ppiankov/concord/internal/logger"
	"github.com/ppiankov/concord/internal/model"
	"github.com/ppiankov/concord/internal/normalize"
)

// Match is one matcher verdict: a concept (by normalization key), a
// semantic-fit confidence, and a short rationale kept for audit.
type Match struct {
	ConceptKey string
	Confidence float64
	Rationale  string
}

// Matcher is the semantic matching port. Implementations may call external
// inference; failures are recovered by the engine as "no matches", which
// routes the candidate to overflow rather than dropping it.
type Matcher interface {
	// Name identifies the matcher implementation.
	Name() string

	// MatchConcepts scores the candidate against the snapshot catalog.
	// Zero matches is a valid, supported outcome.
	MatchConcepts(ctx context.Context, cand *model.RawCandidate, snap *catalog.Snapshot) ([]Match, error)
}

// Engine produces provisional candidate-to-concept edges for a batch.
type Engine struct {
	matcher Matcher
	cfg     model.LinkingConfig
	log     *logger.Logger
}

// NewEngine creates a linking engine.
func NewEngine(matcher Matcher, cfg model.LinkingConfig, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{matcher: matcher, cfg: cfg, log: log}
}

// Link attaches each candidate in the batch to zero or more concepts from
// the frozen snapshot. Candidates below the pre-rerank floor are rejected
// outright (neither linked nor overflowed); candidates with no adequate
// match go to the overflow bucket so they stay auditable.
func (e *Engine) Link(ctx context.Context, batch []*model.RawCandidate, snap *catalog.Snapshot) []model.LinkedEdge {
	var edges []model.LinkedEdge

	for _, cand := range batch {
		if cand.Confidence < e.cfg.PreFloor {
			e.log.Debug("candidate rejected below pre-rerank floor",
				"candidate", cand.ID, "confidence", cand.Confidence, "floor", e.cfg.PreFloor)
			continue
		}

		if snap.Empty() {
			edges = append(edges, e.overflowEdge(cand, snap))
			continue
		}

		// Exact normalization-key hit short-circuits semantic matching:
		// the subject names a catalog concept verbatim.
		if concept, ok := snap.Lookup(normalize.Key(cand.SubjectText)); ok {
			c := *concept
			edges = append(edges, model.LinkedEdge{
				Candidate: cand,
				Concept:   &c,
				Semantic:  1.0,
				Rationale: "exact normalization-key match",
			})
			continue
		}

		matches, err := e.match(ctx, cand, snap)
		if err != nil {
			// Matcher failures degrade to overflow, never lose the unit.
			e.log.Warn("matcher failed, routing candidate to overflow",
				"candidate", cand.ID, "error", err)
			matches = nil
		}

		if len(matches) == 0 {
			edges = append(edges, e.overflowEdge(cand, snap))
			continue
		}

		for _, m := range matches {
			concept, ok := snap.Lookup(m.ConceptKey)
			if !ok || concept.IsOverflow() {
				e.log.Debug("matcher referenced unknown concept key, skipped",
					"key", m.ConceptKey, "matcher", e.matcher.Name())
				continue
			}
			c := *concept
			edges = append(edges, model.LinkedEdge{
				Candidate: cand,
				Concept:   &c,
				Semantic:  clamp01(m.Confidence),
				Rationale: m.Rationale,
			})
		}
	}

	// Stable order so downstream processing is deterministic regardless of
	// matcher iteration order.
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Candidate.ID != edges[j].Candidate.ID {
			return edges[i].Candidate.ID.String() < edges[j].Candidate.ID.String()
		}
		if edges[i].Semantic != edges[j].Semantic {
			return edges[i].Semantic > edges[j].Semantic
		}
		return edges[i].Concept.NormKey < edges[j].Concept.NormKey
	})
	return edges
}

func (e *Engine) match(ctx context.Context, cand *model.RawCandidate, snap *catalog.Snapshot) ([]Match, error) {
	if e.matcher == nil {
		return nil, errors.New("no matcher configured")
	}
	return e.matcher.MatchConcepts(ctx, cand, snap)
}

func (e *Engine) overflowEdge(cand *model.RawCandidate, snap *catalog.Snapshot) model.LinkedEdge {
	bucket := snap.Overflow
	return model.LinkedEdge{
		Candidate: cand,
		Concept:   &bucket,
		Semantic:  0,
		Rationale: "no adequate concept match",
		Overflow:  true,
	}
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
