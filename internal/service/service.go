// Package service implements the replay buffer RPC surface (spec.md §6):
// Checkpoint, InsertStream, MutatePriorities, Reset, SampleStream,
// ServerInfo and InitializeConnection, mediating between the wire protocol
// and the ChunkStore/Table/Checkpointer collaborators.
//
// Grounded on the teacher's internal/service/replay.go, generalized from a
// single Transition-shaped table to the named multi-table, chunk-indexed
// item model this service hosts.
package service

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cartridge/reverb/internal/checkpoint"
	"github.com/cartridge/reverb/internal/chunkstore"
	"github.com/cartridge/reverb/internal/table"
	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

// Service implements replayv1.ReplayServer. Its tables map is immutable
// after Initialize (spec.md §5, "Shared resources"): lookups take no lock.
type Service struct {
	replayv1.UnimplementedReplayServer

	store        *chunkstore.Store
	checkpointer checkpoint.Checkpointer
	logger       zerolog.Logger

	maxSampleResponseBytes int

	tablesByName  map[string]table.Table
	tablesStateID replayv1.Uint128

	connMu      sync.Mutex
	connHandles map[int64]*connectionHolder
	nextHandle  atomic.Int64
}

// New constructs a Service bound to store and, optionally, a checkpointer.
// maxSampleResponseBytes bounds a single SampleStream response frame
// (spec.md §4.6); pass replayv1.MaxSampleResponseSizeBytes for the spec
// default. Call Initialize before serving any RPC.
func New(store *chunkstore.Store, checkpointer checkpoint.Checkpointer, maxSampleResponseBytes int, logger zerolog.Logger) *Service {
	return &Service{
		store:                  store,
		checkpointer:           checkpointer,
		maxSampleResponseBytes: maxSampleResponseBytes,
		logger:                 logger.With().Str("component", "service").Logger(),
		connHandles:            make(map[int64]*connectionHolder),
	}
}

// Initialize installs tables, restoring them from a checkpoint first when
// one is configured, then assigns a fresh tables_state_id (spec.md §4.9).
func (s *Service) Initialize(tables []table.Table) error {
	tmap := make(map[string]table.Table, len(tables))
	for _, t := range tables {
		tmap[t.Name()] = t
	}

	if s.checkpointer != nil {
		err := s.checkpointer.LoadLatest(s.store, tmap)
		if errors.Is(err, checkpoint.ErrNotFound) {
			err = s.checkpointer.LoadFallbackCheckpoint(s.store, tmap)
			if errors.Is(err, checkpoint.ErrNotFound) {
				err = nil
			}
		}
		if err != nil {
			return errors.Wrap(err, "initialize: load checkpoint")
		}
	}

	s.tablesByName = tmap
	s.tablesStateID = newTablesStateID(rand.New(rand.NewSource(time.Now().UnixNano())))
	s.logger.Info().
		Int("tables", len(tmap)).
		Stringer("tables_state_id", uuidFromUint128(s.tablesStateID)).
		Msg("service initialized")
	return nil
}

// newTablesStateID draws two uniform 64-bit values from rng (spec.md §4.9).
// The 128-bit value itself is carried on the wire as replayv1.Uint128;
// uuidFromUint128 gives it a human-readable form for logs only.
func newTablesStateID(rng *rand.Rand) replayv1.Uint128 {
	return replayv1.Uint128{High: rng.Uint64(), Low: rng.Uint64()}
}

func uuidFromUint128(id replayv1.Uint128) uuid.UUID {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], id.High)
	binary.BigEndian.PutUint64(b[8:16], id.Low)
	return uuid.UUID(b)
}

// Close transitions the chunk store to closed and closes every table,
// following the original ReverbServiceImpl::Close (see DESIGN.md).
func (s *Service) Close() error {
	s.store.Close()
	for _, t := range s.tablesByName {
		if err := t.Close(); err != nil {
			s.logger.Warn().Err(err).Str("table", t.Name()).Msg("failed to close table")
		}
	}
	return nil
}

// ServerInfo returns one TableInfo per table plus the service's
// tables_state_id (spec.md §4.8). It reads each table's info without
// additional synchronization; the Table collaborator is expected to provide
// a consistent snapshot (spec.md §9, open question 3).
func (s *Service) ServerInfo(ctx context.Context, req *replayv1.ServerInfoRequest) (*replayv1.ServerInfoResponse, error) {
	names := make([]string, 0, len(s.tablesByName))
	for name := range s.tablesByName {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]replayv1.TableInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, s.tablesByName[name].Info())
	}

	return &replayv1.ServerInfoResponse{
		TableInfo:     infos,
		TablesStateID: s.tablesStateID,
	}, nil
}

// Checkpoint snapshots every table via the configured Checkpointer
// (spec.md §4.7).
func (s *Service) Checkpoint(ctx context.Context, req *replayv1.CheckpointRequest) (*replayv1.CheckpointResponse, error) {
	if s.checkpointer == nil {
		return nil, errNoCheckpointer()
	}

	path, err := s.checkpointer.Save(s.tablesByName, 1)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "checkpoint save failed: %v", err)
	}

	s.logger.Info().Str("path", path).Msg("checkpoint saved")
	return &replayv1.CheckpointResponse{CheckpointPath: path}, nil
}

// MutatePriorities updates and/or deletes items by key (spec.md §4.4).
func (s *Service) MutatePriorities(ctx context.Context, req *replayv1.MutatePrioritiesRequest) (*replayv1.MutatePrioritiesResponse, error) {
	tbl, ok := s.tablesByName[req.Table]
	if !ok {
		return nil, errTableNotFound(req.Table)
	}
	if err := tbl.MutateItems(ctx, req.Updates, req.DeleteKeys); err != nil {
		return nil, status.Errorf(codes.Internal, "mutate items: %v", err)
	}
	return &replayv1.MutatePrioritiesResponse{}, nil
}

// Reset drops all items from a table (spec.md §4.4).
func (s *Service) Reset(ctx context.Context, req *replayv1.ResetRequest) (*replayv1.ResetResponse, error) {
	tbl, ok := s.tablesByName[req.Table]
	if !ok {
		return nil, errTableNotFound(req.Table)
	}
	if err := tbl.Reset(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "reset table: %v", err)
	}
	return &replayv1.ResetResponse{}, nil
}

// DebugString summarizes every table and the checkpointer, matching the
// original ReverbServiceImpl::DebugString (see DESIGN.md). Not wired to any
// RPC.
func (s *Service) DebugString() string {
	names := make([]string, 0, len(s.tablesByName))
	for name := range s.tablesByName {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Service(\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %s\n", s.tablesByName[name].DebugString())
	}
	if s.checkpointer != nil {
		fmt.Fprintf(&b, "  checkpointer: %s\n", s.checkpointer.DebugString())
	}
	fmt.Fprintf(&b, "  tables_state_id: %s\n", uuidFromUint128(s.tablesStateID))
	b.WriteString(")")
	return b.String()
}
