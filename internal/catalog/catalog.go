// Package catalog maintains the canonical concept catalog: creation, merge,
// and frozen per-batch snapshots. All lookups key on the normalization key;
// display names are never used for matching.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ppiankov/concord/internal/logger"
	"github.com/ppiankov/concord/internal/model"
	"github.com/ppiankov/concord/internal/normalize"
)

// Catalog is the in-memory concept registry. Concept creation is guarded by
// per-normalization-key mutual exclusion, not a global lock: two goroutines
// racing to create "TLS" and "tls" serialize on the same key lock and the
// loser finds the winner's concept on re-check, so duplicates cannot form.
type Catalog struct {
	mu       sync.RWMutex
	byKey    map[string]*model.Concept
	byID     map[uuid.UUID]*model.Concept
	absorbed map[uuid.UUID]uuid.UUID // merged-away id → surviving id
	version  uint64                  // bumped on every mutation

	lockMu   sync.Mutex
	keyLocks map[string]*sync.Mutex

	log *logger.Logger
}

// New creates an empty catalog.
func New(log *logger.Logger) *Catalog {
	if log == nil {
		log = logger.Nop()
	}
	return &Catalog{
		byKey:    make(map[string]*model.Concept),
		byID:     make(map[uuid.UUID]*model.Concept),
		absorbed: make(map[uuid.UUID]uuid.UUID),
		keyLocks: make(map[string]*sync.Mutex),
		log:      log,
	}
}

// keyLock returns the creation lock for a normalization key, creating it on
// first use (read-fast-path, double-checked write path).
func (c *Catalog) keyLock(key string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	if l, ok := c.keyLocks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.keyLocks[key] = l
	return l
}

// GetOrCreate returns the concept for name's normalization key, creating it
// when absent. Contention on the same key is resolved by retry-after-lock:
// the second caller re-checks under the key lock and adopts the existing
// concept instead of duplicating it.
func (c *Catalog) GetOrCreate(name string, role model.RoleTag) (*model.Concept, error) {
	key := normalize.Key(name)
	if key == "" {
		return nil, fmt.Errorf("%w: name %q normalizes to empty key", model.ErrCatalogContention, name)
	}

	c.mu.RLock()
	existing := c.byKey[key]
	c.mu.RUnlock()
	if existing != nil {
		return existing, nil
	}

	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Retry after acquiring the key lock: a concurrent creator may have won.
	c.mu.RLock()
	existing = c.byKey[key]
	c.mu.RUnlock()
	if existing != nil {
		return existing, nil
	}

	concept := &model.Concept{
		ID:      uuid.New(),
		Name:    name,
		NormKey: key,
		Role:    role,
	}
	c.mu.Lock()
	c.byKey[key] = concept
	c.byID[concept.ID] = concept
	c.version++
	c.mu.Unlock()

	c.log.Debug("concept created", "key", key, "id", concept.ID)
	return concept, nil
}

// Lookup returns the concept for a normalization key, if present.
func (c *Catalog) Lookup(key string) (*model.Concept, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	concept, ok := c.byKey[key]
	return concept, ok
}

// ByID resolves a concept id, following merge re-pointing so references to
// absorbed concepts keep working.
func (c *Catalog) ByID(id uuid.UUID) (*model.Concept, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for {
		if concept, ok := c.byID[id]; ok {
			return concept, true
		}
		next, ok := c.absorbed[id]
		if !ok {
			return nil, false
		}
		id = next
	}
}

// Overflow returns the designated overflow bucket, creating it on first use.
// The bucket is excluded from merge logic and capped downstream.
func (c *Catalog) Overflow() *model.Concept {
	c.mu.RLock()
	existing := c.byKey[model.OverflowKey]
	c.mu.RUnlock()
	if existing != nil {
		return existing
	}

	lock := c.keyLock(model.OverflowKey)
	lock.Lock()
	defer lock.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing := c.byKey[model.OverflowKey]; existing != nil {
		return existing
	}
	bucket := &model.Concept{
		ID:      uuid.New(),
		Name:    "Unresolved",
		NormKey: model.OverflowKey,
		Role:    model.RoleOverflow,
	}
	c.byKey[model.OverflowKey] = bucket
	c.byID[bucket.ID] = bucket
	c.version++
	return bucket
}

// AddTriggers appends lexical triggers to a concept, skipping duplicates.
func (c *Catalog) AddTriggers(id uuid.UUID, triggers ...model.Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	concept, ok := c.byID[id]
	if !ok {
		return
	}
	for _, t := range triggers {
		dup := false
		for _, have := range concept.Triggers {
			if normalize.Key(have.Text) == normalize.Key(t.Text) && have.Language == t.Language {
				dup = true
				break
			}
		}
		if !dup {
			concept.Triggers = append(concept.Triggers, t)
		}
	}
	c.version++
}

// Merge absorbs src into dst: triggers are unioned, accepted-link counts
// summed, and src's id re-pointed at dst so existing references are never
// dropped. The overflow bucket can be neither side of a merge.
func (c *Catalog) Merge(dst, src uuid.UUID) (*model.Concept, error) {
	if dst == src {
		return nil, fmt.Errorf("merge: identical concept ids")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	keep, ok := c.byID[dst]
	if !ok {
		return nil, fmt.Errorf("merge: unknown destination concept %s", dst)
	}
	gone, ok := c.byID[src]
	if !ok {
		return nil, fmt.Errorf("merge: unknown source concept %s", src)
	}
	if keep.IsOverflow() || gone.IsOverflow() {
		return nil, fmt.Errorf("merge: overflow bucket is excluded from merges")
	}

	for _, t := range gone.Triggers {
		dup := false
		for _, have := range keep.Triggers {
			if normalize.Key(have.Text) == normalize.Key(t.Text) && have.Language == t.Language {
				dup = true
				break
			}
		}
		if !dup {
			keep.Triggers = append(keep.Triggers, t)
		}
	}
	keep.AcceptedLinks += gone.AcceptedLinks

	delete(c.byID, gone.ID)
	delete(c.byKey, gone.NormKey)
	c.absorbed[gone.ID] = keep.ID
	c.version++

	c.log.Info("concepts merged", "kept", keep.NormKey, "absorbed", gone.NormKey)
	return keep, nil
}

// AddAccepted bumps a concept's running accepted-link count. Called when a
// batch commits; never read mid-batch (snapshots freeze the counts).
func (c *Catalog) AddAccepted(id uuid.UUID, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if concept, ok := c.byID[id]; ok {
		concept.AcceptedLinks += n
		c.version++
	}
}

// Version returns the mutation counter, used to key adapter-response caches.
func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Snapshot freezes the catalog for one batch: concept copies (including
// accepted-link counts) in a stable order. Scoring over a snapshot is
// deterministic regardless of candidate order or concurrent catalog writes.
type Snapshot struct {
	Concepts []model.Concept
	Overflow model.Concept
	Version  uint64

	byKey map[string]int
}

// Snapshot captures the current catalog state. The overflow bucket is
// materialized first so every snapshot can route unmatched candidates.
func (c *Catalog) Snapshot() *Snapshot {
	overflow := *c.Overflow()

	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &Snapshot{
		Overflow: overflow,
		Version:  c.version,
		byKey:    make(map[string]int),
	}
	for key, concept := range c.byKey {
		if key == model.OverflowKey {
			continue
		}
		snap.Concepts = append(snap.Concepts, *concept)
	}
	sort.Slice(snap.Concepts, func(i, j int) bool {
		return snap.Concepts[i].NormKey < snap.Concepts[j].NormKey
	})
	for i := range snap.Concepts {
		snap.byKey[snap.Concepts[i].NormKey] = i
	}
	return snap
}

// Lookup finds a snapshot concept by normalization key.
func (s *Snapshot) Lookup(key string) (*model.Concept, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	return &s.Concepts[i], true
}

// Empty reports whether the snapshot carries no concepts beyond the
// overflow bucket. An empty catalog routes every candidate to overflow.
func (s *Snapshot) Empty() bool {
	return len(s.Concepts) == 0
}

// TotalAccepted sums the frozen accepted-link counts, the denominator for
// the saturation share when combined with in-batch provisional wins.
func (s *Snapshot) TotalAccepted() int {
	total := 0
	for i := range s.Concepts {
		total += s.Concepts[i].AcceptedLinks
	}
	return total
}
