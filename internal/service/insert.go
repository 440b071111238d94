package service

import (
	"github.com/cartridge/reverb/internal/chunkstore"
	"github.com/cartridge/reverb/internal/queue"
	"github.com/cartridge/reverb/internal/table"
	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

// InsertStream implements the bidi ingest RPC (spec.md §4.2, §4.3). A
// dedicated reader task drains the wire into a capacity-1 queue so that
// socket I/O is decoupled from chunk-store insertion and table mutation;
// the stream's retained chunks (pending_chunks) are strictly local to this
// call.
func (s *Service) InsertStream(stream replayv1.Replay_InsertStreamServer) error {
	q := queue.New[*replayv1.InsertStreamRequest]()
	go s.insertReader(stream, q)

	pendingChunks := make(map[uint64]*chunkstore.Chunk)
	defer func() {
		q.Close()
		releaseChunkMap(pendingChunks)
	}()

	for {
		req, ok := q.Pop()
		if !ok {
			return nil
		}
		if err := s.processInsertRequest(stream, req, pendingChunks); err != nil {
			return err
		}
	}
}

// insertReader drains stream.Recv into q until the stream ends, then
// signals last-item-pushed so the main loop can stop blocking on Pop
// (spec.md §4.2).
func (s *Service) insertReader(stream replayv1.Replay_InsertStreamServer, q *queue.Queue[*replayv1.InsertStreamRequest]) {
	for {
		req, err := stream.Recv()
		if err != nil {
			q.SetLastItemPushed()
			return
		}
		if !q.Push(req) {
			return
		}
	}
}

func (s *Service) processInsertRequest(stream replayv1.Replay_InsertStreamServer, req *replayv1.InsertStreamRequest, pendingChunks map[uint64]*chunkstore.Chunk) error {
	for _, data := range req.Chunks {
		c, err := s.store.Insert(data)
		if err != nil {
			return errServiceClosed()
		}
		pendingChunks[data.ChunkKey] = c
	}

	if req.Item == nil {
		return nil
	}
	return s.processItemInsert(stream, req.Item, pendingChunks)
}

func (s *Service) processItemInsert(stream replayv1.Replay_InsertStreamServer, insert *replayv1.ItemInsert, pendingChunks map[uint64]*chunkstore.Chunk) error {
	data := insert.Item

	keys := data.FlatTrajectory.ChunkKeys()
	chunks := make([]*chunkstore.Chunk, 0, len(keys))
	for _, key := range keys {
		c, ok := pendingChunks[key]
		if !ok {
			return errMissingChunk(key)
		}
		chunks = append(chunks, c.Acquire())
	}

	tbl, ok := s.tablesByName[data.Table]
	if !ok {
		releaseChunks(chunks)
		return errTableNotFound(data.Table)
	}

	item := &table.Item{
		Key:            data.Key,
		Table:          data.Table,
		FlatTrajectory: data.FlatTrajectory,
		Priority:       data.Priority,
		Chunks:         chunks,
	}
	if err := tbl.InsertOrAssign(stream.Context(), item); err != nil {
		releaseChunks(chunks)
		return statusFromTableError(err)
	}

	if insert.SendConfirmation {
		if err := stream.Send(&replayv1.InsertStreamResponse{Keys: []uint64{item.Key}}); err != nil {
			return errWriteFailedInsert()
		}
	}

	return shrinkToRetained(pendingChunks, insert.KeepChunkKeys)
}

// shrinkToRetained releases every pending chunk not named in keep, leaving
// pending_chunks holding exactly the caller's retention set (spec.md §4.3,
// step 6). A mismatch after shrinking is a caller contract violation and is
// fatal to the stream, not silently tolerated (spec.md §7, §9 open
// question 2: we surface it as Internal rather than crash the process, so
// one misbehaving client cannot take down the server).
func shrinkToRetained(pendingChunks map[uint64]*chunkstore.Chunk, keepKeys []uint64) error {
	keep := make(map[uint64]bool, len(keepKeys))
	for _, k := range keepKeys {
		keep[k] = true
	}
	for key, c := range pendingChunks {
		if !keep[key] {
			c.Release()
			delete(pendingChunks, key)
		}
	}
	if len(pendingChunks) != len(keep) {
		return errRetentionViolation(len(pendingChunks), len(keep))
	}
	return nil
}

func releaseChunks(chunks []*chunkstore.Chunk) {
	for _, c := range chunks {
		c.Release()
	}
}

func releaseChunkMap(chunks map[uint64]*chunkstore.Chunk) {
	for _, c := range chunks {
		c.Release()
	}
}
