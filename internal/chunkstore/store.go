// Package chunkstore implements a content-addressed, reference-counted
// chunk store: identical payloads inserted under the same key share a
// single underlying Chunk, which is reclaimed once its last reference is
// released.
package chunkstore

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

// ErrClosed is returned by Insert once the store has been closed.
var ErrClosed = errors.New("chunk store has been closed")

// Store is a deduplicating, thread-safe map of chunk_key to a shared Chunk.
// It holds its entries weakly: the map itself is not a strong reference, so
// once a Chunk's refcount drops to zero its entry is removed.
type Store struct {
	mu     sync.Mutex
	chunks map[uint64]*Chunk
	closed atomic.Bool
	logger zerolog.Logger
}

// New creates an empty Store.
func New(logger zerolog.Logger) *Store {
	return &Store{
		chunks: make(map[uint64]*Chunk),
		logger: logger.With().Str("component", "chunkstore").Logger(),
	}
}

// Insert stores data under its ChunkKey, or returns the existing shared
// chunk if the key is already present (deduplication). The caller's payload
// is discarded in the latter case.
func (s *Store) Insert(data *replayv1.ChunkData) (*Chunk, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock: Close() may have run between the fast-path
	// load above and acquiring the mutex.
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if existing, ok := s.chunks[data.ChunkKey]; ok {
		return existing.Acquire(), nil
	}

	c := newChunk(s, data)
	s.chunks[data.ChunkKey] = c
	return c, nil
}

// release drops one of c's strong references and, if that was the last one,
// removes c's entry from chunks. The decrement happens under mu so it is
// serialized against Insert's dedup path: a concurrent Insert either
// observes c in the map and acquires a reference before this call reaches
// zero, or it runs after this call has already deleted the entry and
// allocates a fresh Chunk. Either way the map never holds an entry whose
// last reference has already been dropped.
func (s *Store) release(c *Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.refs.Dec() == 0 {
		delete(s.chunks, c.Key())
	}
}

// Len reports the number of chunks currently live. Intended for tests and
// debugging.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Close transitions the store to a closed state; subsequent Insert calls
// fail with ErrClosed. In-flight shared chunks remain valid until their last
// reference is dropped.
func (s *Store) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.logger.Info().Msg("chunk store closed")
	}
}
