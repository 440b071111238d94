// Package table defines the Table collaborator contract: a named
// prioritized item collection with a sampling distribution and
// rate-limiter. This package only names the interface the service talks
// to, plus a reference in-memory implementation under ./memtable so the
// service is runnable end to end.
package table

import (
	"context"
	"errors"
	"time"

	"github.com/cartridge/reverb/internal/chunkstore"
	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

// Infinite, passed as the timeout to SampleFlexibleBatch, means "block until
// an item is available or the context is cancelled". A negative or absent
// timeout is normalized to this value.
const Infinite time.Duration = -1

// ErrRateLimiterTimeout is returned by SampleFlexibleBatch when the
// configured timeout elapses before enough items could be sampled.
var ErrRateLimiterTimeout = errors.New("rate limiter timeout exceeded")

// ErrNotFound is the sentinel a Table implementation can return for an
// unknown item key, distinguishing "key not found" from other mutation
// failures. memtable.Table does not return it: its MutateItems skips
// unknown keys.
var ErrNotFound = errors.New("item not found")

// Item is a keyed reference to an ordered sequence of chunk slices with a
// priority; the unit of sampling.
type Item struct {
	Key            uint64
	Table          string
	FlatTrajectory *replayv1.FlatTrajectory
	Priority       float64
	TimesSampled   int32
	Chunks         []*chunkstore.Chunk
}

// SampledItem is one draw from Table.SampleFlexibleBatch.
type SampledItem struct {
	Item         *Item
	Priority     float64
	TimesSampled int32
	Probability  float64
	TableSize    int64
	RateLimited  bool
}

// Table is the external collaborator the service mediates between the wire
// protocol and a priority table's storage and sampling policy.
type Table interface {
	Name() string
	InsertOrAssign(ctx context.Context, item *Item) error
	MutateItems(ctx context.Context, updates []replayv1.KeyWithPriority, deleteKeys []uint64) error
	Reset(ctx context.Context) error
	SampleFlexibleBatch(ctx context.Context, max int, timeout time.Duration) ([]SampledItem, error)
	DefaultFlexibleBatchSize() int32
	Close() error
	Info() replayv1.TableInfo
	DebugString() string
}
