// Package memtable provides an in-memory reference implementation of the
// table.Table collaborator, so the replay service is runnable end to end
// without an external Table.
package memtable

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cartridge/reverb/internal/chunkstore"
	"github.com/cartridge/reverb/internal/table"
	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

// DefaultFlexibleBatchSize is used when a client selects
// replayv1.AutoSelectBatchSize and the table was not configured otherwise.
const DefaultFlexibleBatchSize = 64

// Table is an in-memory, priority-weighted implementation of table.Table.
type Table struct {
	mu               sync.Mutex
	name             string
	maxSize          int64
	alpha            float64
	defaultBatchSize int32
	items            map[uint64]*table.Item
	rng              *rand.Rand
	closed           bool
	notify           chan struct{}
}

// Option configures a Table at construction time.
type Option func(*Table)

// WithPriorityExponent sets the alpha exponent applied to stored priorities
// before weighted sampling (priority^alpha). Default 1.0 (linear priority
// weighting).
func WithPriorityExponent(alpha float64) Option {
	return func(t *Table) { t.alpha = alpha }
}

// WithMaxSize bounds the number of items retained; 0 means unbounded.
func WithMaxSize(maxSize int64) Option {
	return func(t *Table) { t.maxSize = maxSize }
}

// WithDefaultFlexibleBatchSize overrides DefaultFlexibleBatchSize.
func WithDefaultFlexibleBatchSize(n int32) Option {
	return func(t *Table) { t.defaultBatchSize = n }
}

// New creates a named, empty table.
func New(name string, opts ...Option) *Table {
	t := &Table{
		name:             name,
		alpha:            1.0,
		defaultBatchSize: DefaultFlexibleBatchSize,
		items:            make(map[uint64]*table.Item),
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
		notify:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) Name() string { return t.name }

// InsertOrAssign inserts item, or replaces the existing item under the same
// key, releasing the chunk references the replaced item held.
func (t *Table) InsertOrAssign(_ context.Context, item *table.Item) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("table %s is closed", t.name)
	}

	if old, ok := t.items[item.Key]; ok {
		releaseChunks(old.Chunks)
	} else if t.maxSize > 0 && int64(len(t.items)) >= t.maxSize {
		t.evictOldestLocked()
	}

	t.items[item.Key] = item
	t.wakeLocked()
	return nil
}

func (t *Table) evictOldestLocked() {
	// No recency tracking beyond map iteration order; evicting an arbitrary
	// item keeps the table within maxSize without adding further bookkeeping.
	for key, old := range t.items {
		releaseChunks(old.Chunks)
		delete(t.items, key)
		return
	}
}

// MutateItems updates priorities and deletes items by key. Keys with no
// matching item are skipped.
func (t *Table) MutateItems(_ context.Context, updates []replayv1.KeyWithPriority, deleteKeys []uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, u := range updates {
		if item, ok := t.items[u.Key]; ok {
			item.Priority = u.Priority
		}
	}
	for _, key := range deleteKeys {
		if item, ok := t.items[key]; ok {
			releaseChunks(item.Chunks)
			delete(t.items, key)
		}
	}
	return nil
}

// Reset drops every item from the table, releasing their chunk references.
func (t *Table) Reset(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, item := range t.items {
		releaseChunks(item.Chunks)
	}
	t.items = make(map[uint64]*table.Item)
	return nil
}

// SampleFlexibleBatch blocks until at least one item can be sampled, the
// timeout elapses, or ctx is cancelled.
func (t *Table) SampleFlexibleBatch(ctx context.Context, max int, timeout time.Duration) ([]table.SampledItem, error) {
	rateLimited := false
	for {
		t.mu.Lock()
		if len(t.items) > 0 {
			samples := t.sampleLocked(max)
			t.mu.Unlock()
			for i := range samples {
				samples[i].RateLimited = rateLimited
			}
			return samples, nil
		}
		notify := t.notify
		t.mu.Unlock()

		rateLimited = true

		var timer *time.Timer
		var timeoutCh <-chan time.Time
		if timeout != table.Infinite {
			timer = time.NewTimer(timeout)
			timeoutCh = timer.C
		}

		select {
		case <-notify:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-timeoutCh:
			return nil, table.ErrRateLimiterTimeout
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		}
	}
}

// sampleLocked draws up to max items weighted by Priority^alpha, without
// replacement.
func (t *Table) sampleLocked(max int) []table.SampledItem {
	candidates := make([]*table.Item, 0, len(t.items))
	for _, item := range t.items {
		candidates = append(candidates, item)
	}

	n := max
	if n > len(candidates) {
		n = len(candidates)
	}

	probabilities := computeProbabilities(candidates, t.alpha)

	sampled := make([]table.SampledItem, 0, n)
	used := make(map[int]bool, n)
	remaining := 1.0
	for len(sampled) < n {
		target := t.rng.Float64() * remaining
		sum := 0.0
		chosen := -1
		for i, p := range probabilities {
			if used[i] {
				continue
			}
			sum += p
			if sum >= target {
				chosen = i
				break
			}
		}
		if chosen == -1 {
			// Floating-point rounding: fall back to the first unused candidate.
			for i := range candidates {
				if !used[i] {
					chosen = i
					break
				}
			}
		}

		item := candidates[chosen]
		used[chosen] = true
		remaining -= probabilities[chosen]

		item.TimesSampled++

		sampled = append(sampled, table.SampledItem{
			Item:         item,
			Priority:     item.Priority,
			TimesSampled: item.TimesSampled,
			Probability:  probabilities[chosen],
			TableSize:    int64(len(t.items)),
		})

		for _, c := range item.Chunks {
			c.Acquire()
		}
	}

	return sampled
}

func computeProbabilities(items []*table.Item, alpha float64) []float64 {
	weights := make([]float64, len(items))
	total := 0.0
	for i, item := range items {
		w := item.Priority
		if w <= 0 {
			w = 0
		}
		if alpha != 1.0 {
			w = math.Pow(w, alpha)
		}
		weights[i] = w
		total += w
	}
	probabilities := make([]float64, len(items))
	if total == 0 {
		uniform := 1.0 / float64(len(items))
		for i := range probabilities {
			probabilities[i] = uniform
		}
		return probabilities
	}
	for i, w := range weights {
		probabilities[i] = w / total
	}
	return probabilities
}

func (t *Table) wakeLocked() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// DefaultFlexibleBatchSize reports the batch size used when a client
// requests replayv1.AutoSelectBatchSize.
func (t *Table) DefaultFlexibleBatchSize() int32 {
	return t.defaultBatchSize
}

// Close releases every remaining item's chunk references.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, item := range t.items {
		releaseChunks(item.Chunks)
	}
	t.items = nil
	return nil
}

func (t *Table) Info() replayv1.TableInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return replayv1.TableInfo{
		Name:        t.name,
		CurrentSize: int64(len(t.items)),
		MaxSize:     t.maxSize,
	}
}

func (t *Table) DebugString() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("Table(name=%s, size=%d, alpha=%.2f)", t.name, len(t.items), t.alpha)
}

func releaseChunks(chunks []*chunkstore.Chunk) {
	for _, c := range chunks {
		c.Release()
	}
}
