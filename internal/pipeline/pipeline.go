// Package pipeline orchestrates one ingestion batch per document: extract,
// link, rerank, promote, consolidate. Scoring is single-threaded and
// deterministic over a frozen catalog snapshot; parallelism happens across
// documents, each with its own snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/concord/internal/catalog"
	"github.com/ppiankov/concord/internal/consolidate"
	"github.com/ppiankov/concord/internal/extract"
	"github.com/ppiankov/concord/internal/link"
	"github.com/ppiankov/concord/internal/logger"
	"github.com/ppiankov/concord/internal/model"
	"github.com/ppiankov/concord/internal/policy"
	"github.com/ppiankov/concord/internal/rerank"
)

// Document is one ingestion input: pre-chunked text units sharing a source.
type Document struct {
	ID     string
	Source string
	Units  []extract.Unit
}

// Result summarizes one document batch.
type Result struct {
	DocumentID    string
	Extracted     int // Raw candidates returned by the adapter
	Accepted      int // Edges surviving rerank
	Promoted      int // Edges surviving the promotion table
	FactsTouched  int
	AdapterErrors int // Unit calls recovered as zero candidates
}

// extractConcurrency bounds parallel adapter calls within one document.
const extractConcurrency = 4

// ConfigFn returns the current effective configuration. Indirection keeps
// thresholds hot-reloadable: every batch reads a fresh value.
type ConfigFn func() model.Config

// Engine wires the four layers over shared catalog and fact stores.
type Engine struct {
	adapter  extract.Adapter
	matcher  link.Matcher
	catalog  *catalog.Catalog
	facts    *consolidate.Store
	configFn ConfigFn
	log      *logger.Logger
}

// NewEngine creates the ingestion engine. adapter may be nil when callers
// feed pre-extracted candidates via ConsolidateBatch directly.
func NewEngine(adapter extract.Adapter, matcher link.Matcher, cat *catalog.Catalog,
	facts *consolidate.Store, configFn ConfigFn, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		adapter:  adapter,
		matcher:  matcher,
		catalog:  cat,
		facts:    facts,
		configFn: configFn,
		log:      log,
	}
}

// IngestDocument runs the full batch for one document. Adapter failures on
// individual units are recovered as zero candidates and the batch proceeds:
// partial commit, never all-or-nothing.
func (e *Engine) IngestDocument(ctx context.Context, doc Document) (*Result, error) {
	if e.adapter == nil {
		return nil, fmt.Errorf("ingest document %s: no extraction adapter configured", doc.ID)
	}
	cfg := e.configFn()
	res := &Result{DocumentID: doc.ID}

	// 1. Freeze the catalog snapshot for the whole batch.
	snap := e.catalog.Snapshot()

	// 2. Extract candidates, fanning the blocking adapter calls out.
	// Results land in unit order so the batch stays deterministic.
	perUnit := make([][]model.RawCandidate, len(doc.Units))
	var failures int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(extractConcurrency)
	for i := range doc.Units {
		i := i
		eg.Go(func() error {
			cands, err := e.adapter.Extract(egCtx, doc.Units[i], snap)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				// Timeout or malformed output: this unit contributes
				// nothing, accepted edges from other units are
				// unaffected.
				e.log.Warn("adapter call failed, unit skipped",
					"document", doc.ID, "unit", doc.Units[i].Index, "error", err)
				atomic.AddInt64(&failures, 1)
				return nil
			}
			perUnit[i] = cands
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return res, err
	}
	res.AdapterErrors = int(failures)

	var batch []*model.RawCandidate
	for i := range perUnit {
		for j := range perUnit[i] {
			batch = append(batch, &perUnit[i][j])
		}
	}
	res.Extracted = len(batch)

	// 3-5. Score and consolidate against the same snapshot.
	if err := e.consolidate(ctx, batch, snap, cfg, res); err != nil {
		return res, err
	}
	return res, nil
}

// ConsolidateBatch links, reranks, promotes, and consolidates pre-extracted
// candidates under a freshly frozen snapshot. Used by direct ingestion and
// by tests exercising determinism.
func (e *Engine) ConsolidateBatch(ctx context.Context, batch []*model.RawCandidate) (*Result, error) {
	cfg := e.configFn()
	res := &Result{}
	snap := e.catalog.Snapshot()
	if err := e.consolidate(ctx, batch, snap, cfg, res); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) consolidate(ctx context.Context, batch []*model.RawCandidate,
	snap *catalog.Snapshot, cfg model.Config, res *Result) error {

	// 3. Link against the frozen snapshot.
	engine := link.NewEngine(e.matcher, cfg.Linking, e.log)
	edges := engine.Link(ctx, batch, snap)

	// 4. Rerank with the saturation ledger frozen at batch start: prior
	// accepted-link counts plus this batch's provisional winners.
	sat := rerank.FreezeSaturation(edges, snap)
	accepted := rerank.New(cfg.Rerank, e.log).Rerank(edges, sat)
	res.Accepted = len(accepted)

	// 5. Promotion table, then per-key consolidation.
	promoted := policy.New(cfg.Promotion).Filter(accepted)
	res.Promoted = len(promoted)

	touched := make(map[string]struct{})
	acceptedPerConcept := make(map[string]int)
	for i := range promoted {
		edge := &promoted[i]
		fact, err := e.facts.Ingest(edge, cfg.Maturity)
		if err != nil {
			return fmt.Errorf("consolidate candidate %s: %w", edge.Candidate.ID, err)
		}
		touched[fact.Key.ID()] = struct{}{}
		if !edge.Overflow {
			acceptedPerConcept[edge.Concept.ID.String()]++
		}
	}
	res.FactsTouched = len(touched)

	// 6. Commit accepted-link counts after the batch, never mid-batch.
	for i := range snap.Concepts {
		c := &snap.Concepts[i]
		if n := acceptedPerConcept[c.ID.String()]; n > 0 {
			e.catalog.AddAccepted(c.ID, n)
		}
	}
	return nil
}
