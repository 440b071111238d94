package main

import (
	"context"
	"io"
	"net"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/cartridge/reverb/internal/chunkstore"
	"github.com/cartridge/reverb/internal/service"
	"github.com/cartridge/reverb/internal/table"
	"github.com/cartridge/reverb/internal/table/memtable"
	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

// fakeBase implements the grpc.ServerStream methods every Replay_*Server
// interface embeds, so these tests can drive the streaming handlers
// directly without a real network transport.
type fakeBase struct {
	ctx context.Context
}

func (f *fakeBase) Context() context.Context    { return f.ctx }
func (f *fakeBase) SetHeader(metadata.MD) error  { return nil }
func (f *fakeBase) SendHeader(metadata.MD) error { return nil }
func (f *fakeBase) SetTrailer(metadata.MD)       {}
func (f *fakeBase) SendMsg(interface{}) error    { return nil }
func (f *fakeBase) RecvMsg(interface{}) error    { return io.EOF }

type fakeInsertStream struct {
	fakeBase
	reqs  []*replayv1.InsertStreamRequest
	idx   int
	resps []*replayv1.InsertStreamResponse
}

func newFakeInsertStream(ctx context.Context, reqs ...*replayv1.InsertStreamRequest) *fakeInsertStream {
	return &fakeInsertStream{fakeBase: fakeBase{ctx: ctx}, reqs: reqs}
}

func (f *fakeInsertStream) Send(m *replayv1.InsertStreamResponse) error {
	f.resps = append(f.resps, m)
	return nil
}

func (f *fakeInsertStream) Recv() (*replayv1.InsertStreamRequest, error) {
	if f.idx >= len(f.reqs) {
		return nil, io.EOF
	}
	r := f.reqs[f.idx]
	f.idx++
	return r, nil
}

type fakeSampleStream struct {
	fakeBase
	reqs  []*replayv1.SampleStreamRequest
	idx   int
	resps []*replayv1.SampleStreamResponse
}

func newFakeSampleStream(ctx context.Context, reqs ...*replayv1.SampleStreamRequest) *fakeSampleStream {
	return &fakeSampleStream{fakeBase: fakeBase{ctx: ctx}, reqs: reqs}
}

func (f *fakeSampleStream) Send(m *replayv1.SampleStreamResponse) error {
	f.resps = append(f.resps, m)
	return nil
}

func (f *fakeSampleStream) Recv() (*replayv1.SampleStreamRequest, error) {
	if f.idx >= len(f.reqs) {
		return nil, io.EOF
	}
	r := f.reqs[f.idx]
	f.idx++
	return r, nil
}

type fakeConnectionStream struct {
	fakeBase
	reqs  []*replayv1.InitializeConnectionRequest
	idx   int
	resps []*replayv1.InitializeConnectionResponse
}

func newFakeConnectionStream(ctx context.Context, reqs ...*replayv1.InitializeConnectionRequest) *fakeConnectionStream {
	return &fakeConnectionStream{fakeBase: fakeBase{ctx: ctx}, reqs: reqs}
}

func (f *fakeConnectionStream) Send(m *replayv1.InitializeConnectionResponse) error {
	f.resps = append(f.resps, m)
	return nil
}

func (f *fakeConnectionStream) Recv() (*replayv1.InitializeConnectionRequest, error) {
	if f.idx >= len(f.reqs) {
		return nil, io.EOF
	}
	r := f.reqs[f.idx]
	f.idx++
	return r, nil
}

func newTestService(t *testing.T, tableNames ...string) *service.Service {
	t.Helper()
	store := chunkstore.New(zerolog.Nop())
	svc := service.New(store, nil, replayv1.MaxSampleResponseSizeBytes, zerolog.Nop())

	tables := make([]table.Table, 0, len(tableNames))
	for _, name := range tableNames {
		tables = append(tables, memtable.New(name))
	}
	require.NoError(t, svc.Initialize(tables))
	return svc
}

func localhostContext() context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999},
	})
}

// S1: insert chunk/item, confirm, then sample it back.
func TestInsertThenSampleRoundTrip(t *testing.T) {
	svc := newTestService(t, "t")
	ctx := localhostContext()

	insert := newFakeInsertStream(ctx, &replayv1.InsertStreamRequest{
		Chunks: []*replayv1.ChunkData{{ChunkKey: 7, Data: []byte("A")}},
		Item: &replayv1.ItemInsert{
			Item: &replayv1.ItemData{
				Key:   100,
				Table: "t",
				FlatTrajectory: &replayv1.FlatTrajectory{
					ChunkSlices: []replayv1.ChunkSlice{{ChunkKey: 7, Offset: 0, Length: 1}},
				},
				Priority: 1.0,
			},
			SendConfirmation: true,
			KeepChunkKeys:    []uint64{7},
		},
	})
	require.NoError(t, svc.InsertStream(insert))
	require.Len(t, insert.resps, 1)
	assert.Equal(t, []uint64{100}, insert.resps[0].Keys)

	sample := newFakeSampleStream(ctx, &replayv1.SampleStreamRequest{
		Table:             "t",
		NumSamples:        1,
		FlexibleBatchSize: 1,
	})
	require.NoError(t, svc.SampleStream(sample))
	require.Len(t, sample.resps, 1)
	require.Len(t, sample.resps[0].Entries, 1)
	entry := sample.resps[0].Entries[0]
	require.NotNil(t, entry.Info)
	assert.Equal(t, uint64(100), entry.Info.Item.Key)
	require.Len(t, entry.Data, 1)
	assert.Equal(t, []byte("A"), entry.Data[0].Data)
	assert.True(t, entry.EndOfSequence)
}

// S2: any op against an unknown table returns NotFound with the exact
// original error text.
func TestMissingTableReturnsNotFound(t *testing.T) {
	svc := newTestService(t, "t")

	_, err := svc.Reset(context.Background(), &replayv1.ResetRequest{Table: "ghost"})
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())
	assert.Contains(t, st.Message(), "Priority table ghost was not found")
}

// S3: an item referencing a chunk key never seen on the stream fails with
// the original Internal error text.
func TestMissingChunkReferenceReturnsInternal(t *testing.T) {
	svc := newTestService(t, "t")
	ctx := localhostContext()

	insert := newFakeInsertStream(ctx, &replayv1.InsertStreamRequest{
		Item: &replayv1.ItemInsert{
			Item: &replayv1.ItemData{
				Key:   1,
				Table: "t",
				FlatTrajectory: &replayv1.FlatTrajectory{
					ChunkSlices: []replayv1.ChunkSlice{{ChunkKey: 999}},
				},
			},
		},
	})
	err := svc.InsertStream(insert)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Contains(t, st.Message(), "Could not find sequence chunk 999.")
}

// S4: retention shrinks pending_chunks to exactly keep_chunk_keys; a later
// item referencing an evicted chunk fails.
func TestRetentionEvictsUnkeptChunks(t *testing.T) {
	svc := newTestService(t, "t")
	ctx := localhostContext()

	insert := newFakeInsertStream(ctx,
		&replayv1.InsertStreamRequest{Chunks: []*replayv1.ChunkData{
			{ChunkKey: 1, Data: []byte("1")},
			{ChunkKey: 2, Data: []byte("2")},
			{ChunkKey: 3, Data: []byte("3")},
		}},
		&replayv1.InsertStreamRequest{Item: &replayv1.ItemInsert{
			Item: &replayv1.ItemData{
				Key:            1,
				Table:          "t",
				FlatTrajectory: &replayv1.FlatTrajectory{ChunkSlices: []replayv1.ChunkSlice{{ChunkKey: 1}}},
				Priority:       1.0,
			},
			KeepChunkKeys: []uint64{1},
		}},
		&replayv1.InsertStreamRequest{Item: &replayv1.ItemInsert{
			Item: &replayv1.ItemData{
				Key:            2,
				Table:          "t",
				FlatTrajectory: &replayv1.FlatTrajectory{ChunkSlices: []replayv1.ChunkSlice{{ChunkKey: 2}}},
				Priority:       1.0,
			},
		}},
	)

	err := svc.InsertStream(insert)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Contains(t, st.Message(), "Could not find sequence chunk 2.")
}

// S5: a sample whose chunks exceed the frame size bound is split across
// multiple frames; only the very last chunk carries end_of_sequence.
func TestSampleStreamSplitsLargeItemAcrossFrames(t *testing.T) {
	svc := newTestService(t, "t")
	ctx := localhostContext()

	const chunkSize = 20 * 1024 * 1024
	payload := func(b byte) []byte {
		data := make([]byte, chunkSize)
		for i := range data {
			data[i] = b
		}
		return data
	}

	insert := newFakeInsertStream(ctx,
		&replayv1.InsertStreamRequest{Chunks: []*replayv1.ChunkData{
			{ChunkKey: 1, Data: payload('a')},
			{ChunkKey: 2, Data: payload('b')},
			{ChunkKey: 3, Data: payload('c')},
		}},
		&replayv1.InsertStreamRequest{Item: &replayv1.ItemInsert{
			Item: &replayv1.ItemData{
				Key:   1,
				Table: "t",
				FlatTrajectory: &replayv1.FlatTrajectory{ChunkSlices: []replayv1.ChunkSlice{
					{ChunkKey: 1}, {ChunkKey: 2}, {ChunkKey: 3},
				}},
				Priority: 1.0,
			},
			KeepChunkKeys: []uint64{1, 2, 3},
		}},
	)
	require.NoError(t, svc.InsertStream(insert))

	sample := newFakeSampleStream(ctx, &replayv1.SampleStreamRequest{
		Table:             "t",
		NumSamples:        1,
		FlexibleBatchSize: 1,
	})
	require.NoError(t, svc.SampleStream(sample))
	require.GreaterOrEqual(t, len(sample.resps), 2, "a 60MiB sample must span at least two frames")

	var eosCount int
	var sawInfo bool
	for _, resp := range sample.resps {
		for _, entry := range resp.Entries {
			if entry.Info != nil {
				sawInfo = true
			}
			if entry.EndOfSequence {
				eosCount++
			}
		}
	}
	assert.True(t, sawInfo, "the first entry must carry item info")
	assert.Equal(t, 1, eosCount, "end_of_sequence must be set on exactly one entry")

	lastResp := sample.resps[len(sample.resps)-1]
	lastEntry := lastResp.Entries[len(lastResp.Entries)-1]
	assert.True(t, lastEntry.EndOfSequence)
}

// S6: a co-located client with a foreign pid gets address=0 and OK, not an
// error.
func TestInitializeConnectionForeignPidReturnsZeroAddress(t *testing.T) {
	svc := newTestService(t, "t")
	ctx := localhostContext()

	conn := newFakeConnectionStream(ctx, &replayv1.InitializeConnectionRequest{
		Pid:       int64(os.Getpid()) + 1,
		TableName: "t",
	})
	require.NoError(t, svc.InitializeConnection(conn))
	require.Len(t, conn.resps, 1)
	assert.Equal(t, int64(0), conn.resps[0].Address)
}

// A non-local peer is declined silently: OK with no response at all.
func TestInitializeConnectionNonLocalPeerIsDeclinedSilently(t *testing.T) {
	svc := newTestService(t, "t")
	ctx := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 1234},
	})

	conn := newFakeConnectionStream(ctx, &replayv1.InitializeConnectionRequest{
		Pid:       int64(os.Getpid()),
		TableName: "t",
	})
	require.NoError(t, svc.InitializeConnection(conn))
	assert.Empty(t, conn.resps)
}

// A same-pid co-located caller completes the handshake and can resolve the
// handle it was handed back to the same Table the server holds — the Go
// substitute for the client materializing its own shared reference from the
// original's raw memory address (spec.md §4.10).
func TestInitializeConnectionResolvesTableForInProcessCaller(t *testing.T) {
	svc := newTestService(t, "t")
	ctx := localhostContext()

	conn := newFakeConnectionStream(ctx,
		&replayv1.InitializeConnectionRequest{
			Pid:       int64(os.Getpid()),
			TableName: "t",
		},
		&replayv1.InitializeConnectionRequest{
			OwnershipTransferred: true,
		},
	)
	require.NoError(t, svc.InitializeConnection(conn))
	require.Len(t, conn.resps, 1)
	handle := conn.resps[0].Address
	require.NotZero(t, handle)

	tbl, ok := svc.ResolveConnection(handle)
	require.True(t, ok)
	assert.Equal(t, "t", tbl.Name())

	_, ok = svc.ResolveConnection(handle + 1)
	assert.False(t, ok, "an unknown handle must not resolve")
}
