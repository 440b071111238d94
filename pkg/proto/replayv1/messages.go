// Package replayv1 defines the wire messages and service interfaces for the
// replay buffer RPC service.
//
// The .proto IDL and protoc-gen-go/protoc-gen-go-grpc output are out of
// scope for this repository (see spec.md, "gRPC/protobuf transport itself"),
// so this package is hand-written in the shape that generated code would
// take: plain message structs plus the streaming service interfaces
// protoc-gen-go-grpc emits. Messages that genuinely benefit from the
// protobuf well-known types (e.g. a wire duration) use the real
// google.golang.org/protobuf types rather than reinventing them.
package replayv1

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// AutoSelectBatchSize is the sentinel flexible_batch_size value meaning
// "let the table choose its default flexible batch size". It matches the
// client sampler's own auto-select sentinel (spec.md §6, Constants).
const AutoSelectBatchSize int32 = -1

// MaxSampleResponseSizeBytes bounds a single SampleStream response frame
// (spec.md §4.6, kMaxSampleResponseSizeBytes).
const MaxSampleResponseSizeBytes = 40 * 1024 * 1024

// ChunkData is an immutable, already-compressed trajectory fragment
// identified by ChunkKey (spec.md §3, Chunk).
type ChunkData struct {
	ChunkKey uint64
	Data     []byte
}

// ChunkSlice references a slice of a single chunk within a flat trajectory.
type ChunkSlice struct {
	ChunkKey uint64
	Offset   int32
	Length   int32
}

// FlatTrajectory is an ordered list of chunk slices making up one item's
// trajectory (spec.md §3, Item.flat_trajectory).
type FlatTrajectory struct {
	ChunkSlices []ChunkSlice
}

// ChunkKeys returns the distinct chunk keys referenced by the trajectory, in
// first-seen order.
func (t *FlatTrajectory) ChunkKeys() []uint64 {
	if t == nil {
		return nil
	}
	seen := make(map[uint64]struct{}, len(t.ChunkSlices))
	keys := make([]uint64, 0, len(t.ChunkSlices))
	for _, s := range t.ChunkSlices {
		if _, ok := seen[s.ChunkKey]; ok {
			continue
		}
		seen[s.ChunkKey] = struct{}{}
		keys = append(keys, s.ChunkKey)
	}
	return keys
}

// ItemData is the wire representation of an item record (spec.md §3, Item).
type ItemData struct {
	Key            uint64
	Table          string
	FlatTrajectory *FlatTrajectory
	Priority       float64
	TimesSampled   int32
}

// ItemInsert carries one item plus the insert-time controls described in
// spec.md §4.3: whether to confirm and which chunks the caller wants kept in
// the stream's retention set afterwards.
type ItemInsert struct {
	Item              *ItemData
	SendConfirmation  bool
	KeepChunkKeys     []uint64
}

// InsertStreamRequest is one request of the InsertStream bidi RPC
// (spec.md §4.3).
type InsertStreamRequest struct {
	Chunks []*ChunkData
	Item   *ItemInsert
}

// InsertStreamResponse carries the key of a confirmed item.
type InsertStreamResponse struct {
	Keys []uint64
}

// KeyWithPriority is a single priority update (spec.md §4.4).
type KeyWithPriority struct {
	Key      uint64
	Priority float64
}

// MutatePrioritiesRequest updates and/or deletes items by key.
type MutatePrioritiesRequest struct {
	Table      string
	Updates    []KeyWithPriority
	DeleteKeys []uint64
}

// MutatePrioritiesResponse is empty; success is signalled by a nil error.
type MutatePrioritiesResponse struct{}

// ResetRequest names the table to drop all items from.
type ResetRequest struct {
	Table string
}

// ResetResponse is empty; success is signalled by a nil error.
type ResetResponse struct{}

// SampleStreamRequest is one request of the SampleStream bidi RPC
// (spec.md §4.5). RateLimiterTimeout is nil or negative for "infinite".
type SampleStreamRequest struct {
	Table             string
	NumSamples        int32
	FlexibleBatchSize int32
	RateLimiterTimeout *durationpb.Duration
}

// SampleInfo is the per-sample metadata attached to the first entry of a
// sample's frame sequence (spec.md §4.6).
type SampleInfo struct {
	Item        *ItemData
	Probability float64
	TableSize   int64
	RateLimited bool
}

// SampleStreamEntry is one fanned-out piece of a sampled item. Several
// entries, possibly spread across several SampleStreamResponse frames, make
// up one sample (spec.md §4.6).
type SampleStreamEntry struct {
	Info          *SampleInfo
	Data          []*ChunkData
	EndOfSequence bool
}

// SampleStreamResponse is one frame written back on the SampleStream RPC.
type SampleStreamResponse struct {
	Entries []*SampleStreamEntry
}

// CheckpointRequest triggers a table snapshot (spec.md §4.7).
type CheckpointRequest struct{}

// CheckpointResponse carries the path the checkpoint was written to.
type CheckpointResponse struct {
	CheckpointPath string
}

// TableInfo is the per-table summary returned by ServerInfo (spec.md §4.8).
// Its shape is provided by the Table collaborator (spec.md §6); the fields
// below are the common denominator every table implementation can report.
type TableInfo struct {
	Name        string
	CurrentSize int64
	MaxSize     int64
}

// Uint128 is a 128-bit value split into two halves, used for tables_state_id
// (spec.md §3, §4.9).
type Uint128 struct {
	High uint64
	Low  uint64
}

// ServerInfoRequest has no fields.
type ServerInfoRequest struct{}

// ServerInfoResponse returns one TableInfo per table plus the service's
// tables_state_id (spec.md §4.8).
type ServerInfoResponse struct {
	TableInfo     []TableInfo
	TablesStateID Uint128
}

// InitializeConnectionRequest is the in-process handshake's first request
// and, with OwnershipTransferred set, its confirmation (spec.md §4.10).
type InitializeConnectionRequest struct {
	Pid                  int64
	TableName            string
	OwnershipTransferred bool
}

// InitializeConnectionResponse carries the server-side connection handle.
// Address == 0 means "not supported for this peer/pid, use normal RPC".
type InitializeConnectionResponse struct {
	Address int64
}
