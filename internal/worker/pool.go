// Package worker runs document ingestion concurrently. Each document is one
// batch with its own frozen catalog snapshot; the fact store serializes
// cross-batch aggregation per grouping key, so workers never coordinate
// beyond that boundary.
package worker

import (
	"context"
	"sync"

	"github.com/ppiankov/concord/internal/pipeline"
)

// Ingestor runs one document batch.
type Ingestor interface {
	IngestDocument(ctx context.Context, doc pipeline.Document) (*pipeline.Result, error)
}

// DocumentResult pairs a document with its batch outcome.
type DocumentResult struct {
	DocumentID string
	Result     *pipeline.Result
	Err        error
}

// Pool fans documents out to a fixed number of workers.
type Pool struct {
	workers  int
	ingestor Ingestor
}

// NewPool creates a pool. workers below 1 run single-threaded.
func NewPool(ingestor Ingestor, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers, ingestor: ingestor}
}

// Run ingests all documents and returns one result per document, in input
// order. A failed document never aborts the others: its error is recorded
// and the remaining batches proceed.
func (p *Pool) Run(ctx context.Context, docs []pipeline.Document) []DocumentResult {
	results := make([]DocumentResult, len(docs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				doc := docs[idx]
				res, err := p.ingestor.IngestDocument(ctx, doc)
				results[idx] = DocumentResult{
					DocumentID: doc.ID,
					Result:     res,
					Err:        err,
				}
			}
		}()
	}

	for idx := range docs {
		select {
		case <-ctx.Done():
			results[idx] = DocumentResult{DocumentID: docs[idx].ID, Err: ctx.Err()}
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
