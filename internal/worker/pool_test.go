package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/concord/internal/pipeline"
)

// countingIngestor records calls and fails for configured document ids.
type countingIngestor struct {
	calls   int64
	failIDs map[string]bool
}

func (c *countingIngestor) IngestDocument(_ context.Context, doc pipeline.Document) (*pipeline.Result, error) {
	atomic.AddInt64(&c.calls, 1)
	if c.failIDs[doc.ID] {
		return nil, errors.New("ingestion failed")
	}
	return &pipeline.Result{DocumentID: doc.ID}, nil
}

func docs(ids ...string) []pipeline.Document {
	out := make([]pipeline.Document, len(ids))
	for i, id := range ids {
		out[i] = pipeline.Document{ID: id}
	}
	return out
}

func TestPool_ResultsInInputOrder(t *testing.T) {
	ing := &countingIngestor{}
	results := NewPool(ing, 4).Run(context.Background(), docs("a", "b", "c", "d", "e"))

	require.Len(t, results, 5)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, id, results[i].DocumentID)
		assert.NoError(t, results[i].Err)
	}
	assert.Equal(t, int64(5), atomic.LoadInt64(&ing.calls))
}

func TestPool_FailedDocumentDoesNotAbortOthers(t *testing.T) {
	ing := &countingIngestor{failIDs: map[string]bool{"b": true}}
	results := NewPool(ing, 2).Run(context.Background(), docs("a", "b", "c"))

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
}

func TestPool_WorkerFloor(t *testing.T) {
	ing := &countingIngestor{}
	results := NewPool(ing, 0).Run(context.Background(), docs("a", "b"))
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
}

// ctxIngestor surfaces context cancellation the way a real engine does.
type ctxIngestor struct{}

func (ctxIngestor) IngestDocument(ctx context.Context, doc pipeline.Document) (*pipeline.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &pipeline.Result{DocumentID: doc.ID}, nil
}

func TestPool_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewPool(ctxIngestor{}, 2).Run(ctx, docs("a", "b", "c"))

	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, errors.Is(r.Err, context.Canceled))
	}
}
