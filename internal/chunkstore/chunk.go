package chunkstore

import (
	"go.uber.org/atomic"

	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

// Chunk is a shared, reference-counted handle to an immutable trajectory
// fragment. Many items and in-flight samples may hold a Chunk concurrently;
// the underlying slot in the owning Store is reclaimed when the last
// reference is released.
type Chunk struct {
	data  *replayv1.ChunkData
	refs  atomic.Int32
	store *Store
}

func newChunk(store *Store, data *replayv1.ChunkData) *Chunk {
	c := &Chunk{data: data, store: store}
	c.refs.Store(1)
	return c
}

// Key returns the chunk's identity within its Store.
func (c *Chunk) Key() uint64 {
	return c.data.ChunkKey
}

// Data returns the chunk's immutable payload. Callers must not mutate it.
func (c *Chunk) Data() *replayv1.ChunkData {
	return c.data
}

// Acquire returns a new strong reference to the same chunk, incrementing the
// refcount. The caller owns the returned reference and must Release it.
func (c *Chunk) Acquire() *Chunk {
	c.refs.Inc()
	return c
}

// Release drops a strong reference. Once the last reference is dropped the
// chunk's slot in its Store is reclaimed.
func (c *Chunk) Release() {
	c.store.release(c)
}
