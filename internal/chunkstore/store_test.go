package chunkstore

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

func TestStore_InsertDeduplicates(t *testing.T) {
	s := New(zerolog.Nop())

	c1, err := s.Insert(&replayv1.ChunkData{ChunkKey: 7, Data: []byte("A")})
	require.NoError(t, err)

	c2, err := s.Insert(&replayv1.ChunkData{ChunkKey: 7, Data: []byte("discarded")})
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, []byte("A"), c1.Data().Data, "second insert's payload must be discarded")
	assert.Equal(t, 1, s.Len())
}

func TestStore_ConcurrentInsertSameKeyDeduplicates(t *testing.T) {
	s := New(zerolog.Nop())

	const n = 64
	results := make([]*Chunk, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			c, err := s.Insert(&replayv1.ChunkData{ChunkKey: 42, Data: []byte{byte(i)}})
			require.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, s.Len())

	for _, c := range results {
		c.Release()
	}
	assert.Equal(t, 0, s.Len())
}

func TestStore_ReleaseReclaimsSlotOnlyAfterLastReference(t *testing.T) {
	s := New(zerolog.Nop())

	c, err := s.Insert(&replayv1.ChunkData{ChunkKey: 1, Data: []byte("x")})
	require.NoError(t, err)

	dup, err := s.Insert(&replayv1.ChunkData{ChunkKey: 1})
	require.NoError(t, err)

	dup.Release()
	assert.Equal(t, 1, s.Len(), "store still holds the chunk while c is live")

	c.Release()
	assert.Equal(t, 0, s.Len())
}

func TestStore_InsertAfterCloseFails(t *testing.T) {
	s := New(zerolog.Nop())
	s.Close()

	_, err := s.Insert(&replayv1.ChunkData{ChunkKey: 1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_InFlightChunksSurviveClose(t *testing.T) {
	s := New(zerolog.Nop())

	c, err := s.Insert(&replayv1.ChunkData{ChunkKey: 9, Data: []byte("x")})
	require.NoError(t, err)

	s.Close()

	assert.Equal(t, uint64(9), c.Key())
	assert.Equal(t, []byte("x"), c.Data().Data)
}
