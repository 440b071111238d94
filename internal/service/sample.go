package service

import (
	"errors"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cartridge/reverb/internal/chunkstore"
	"github.com/cartridge/reverb/internal/table"
	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

// entryOverheadBytes and chunkOverheadBytes approximate the wire cost of a
// SampleStreamEntry/ChunkData beyond their payload bytes. There is no real
// protobuf codec in this repository (spec.md §1) to ask for an exact
// ByteSizeLong, so the frame-size bound is enforced against this estimate.
const (
	entryOverheadBytes = 64
	chunkOverheadBytes = 16
)

// SampleStream implements the bidi sampling RPC (spec.md §4.5, §4.6): one
// or more sample requests, each served as a blocking flexible-batch draw
// fanned out across size-bounded response frames.
func (s *Service) SampleStream(stream replayv1.Replay_SampleStreamServer) error {
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}

		if err := s.handleSampleRequest(stream, req); err != nil {
			return err
		}
	}
}

func (s *Service) handleSampleRequest(stream replayv1.Replay_SampleStreamServer, req *replayv1.SampleStreamRequest) error {
	if req.NumSamples <= 0 {
		return status.Error(codes.InvalidArgument, "num_samples must be > 0")
	}
	if req.FlexibleBatchSize <= 0 && req.FlexibleBatchSize != replayv1.AutoSelectBatchSize {
		return status.Error(codes.InvalidArgument, "flexible_batch_size must be > 0 or AutoSelectBatchSize")
	}

	tbl, ok := s.tablesByName[req.Table]
	if !ok {
		return errTableNotFound(req.Table)
	}

	timeout := table.Infinite
	if req.RateLimiterTimeout != nil {
		if d := req.RateLimiterTimeout.AsDuration(); d >= 0 {
			timeout = d
		}
	}

	defaultBatch := tbl.DefaultFlexibleBatchSize()

	var count int32
	for count < req.NumSamples {
		if stream.Context().Err() != nil {
			return nil
		}

		batch := req.FlexibleBatchSize
		if batch == replayv1.AutoSelectBatchSize {
			batch = defaultBatch
		}
		if remaining := req.NumSamples - count; batch > remaining {
			batch = remaining
		}

		samples, err := tbl.SampleFlexibleBatch(stream.Context(), int(batch), timeout)
		if err != nil {
			if errors.Is(err, table.ErrRateLimiterTimeout) {
				return status.Error(codes.DeadlineExceeded, err.Error())
			}
			if stream.Context().Err() != nil {
				return nil
			}
			return statusFromTableError(err)
		}

		for _, sampled := range samples {
			if err := writeSample(stream, s.maxSampleResponseBytes, sampled); err != nil {
				return err
			}
		}
		count += int32(len(samples))
	}

	return nil
}

// writeSample fans sampled's chunks out across one or more
// SampleStreamResponse frames bounded by maxBytes, in trajectory order,
// flagging end_of_sequence on exactly the last chunk (spec.md §4.6).
//
// Each sample owns its own frame(s): a frame is never shared across two
// samples, matching the original's per-sample response object that is
// cleared and re-written as needed
// (original_source/reverb/cc/reverb_service_impl.cc SampleStreamInternal,
// `SampleStreamResponse response;` declared inside the per-sample loop).
// Mixing samples into one frame let an already-near-full frame silently
// exceed maxBytes on the next sample's first chunk, so samples are kept
// frame-disjoint instead.
func writeSample(stream replayv1.Replay_SampleStreamServer, maxBytes int, sampled table.SampledItem) error {
	resp := &replayv1.SampleStreamResponse{}
	entry := &replayv1.SampleStreamEntry{
		Info: &replayv1.SampleInfo{
			Item: &replayv1.ItemData{
				Key:            sampled.Item.Key,
				Table:          sampled.Item.Table,
				FlatTrajectory: sampled.Item.FlatTrajectory,
				Priority:       sampled.Priority,
				TimesSampled:   sampled.TimesSampled,
			},
			Probability: sampled.Probability,
			TableSize:   sampled.TableSize,
			RateLimited: sampled.RateLimited,
		},
	}
	resp.Entries = append(resp.Entries, entry)
	size := entryOverheadBytes

	var acquired []*chunkstore.Chunk
	chunks := sampled.Item.Chunks
	for i, chunk := range chunks {
		data := chunk.Data()
		chunkSize := chunkOverheadBytes + len(data.Data)

		// Flush before a chunk that would push the frame past maxBytes. A
		// frame always carries at least one chunk, so a single chunk larger
		// than maxBytes still goes out in a frame of its own.
		if len(entry.Data) > 0 && size+chunkSize > maxBytes {
			if err := sendFrame(stream, resp, acquired); err != nil {
				return err
			}
			acquired = nil
			resp = &replayv1.SampleStreamResponse{}
			entry = &replayv1.SampleStreamEntry{}
			resp.Entries = append(resp.Entries, entry)
			size = entryOverheadBytes
		}

		entry.Data = append(entry.Data, data)
		entry.EndOfSequence = i == len(chunks)-1
		size += chunkSize
		acquired = append(acquired, chunk)
	}
	return sendFrame(stream, resp, acquired)
}

// sendFrame writes resp and releases the zero-copy chunk references it
// borrowed from acquired, regardless of whether the write succeeded, so a
// write failure cannot leak the extra reference SampleFlexibleBatch
// acquired for the frame (spec.md §4.6).
func sendFrame(stream replayv1.Replay_SampleStreamServer, resp *replayv1.SampleStreamResponse, acquired []*chunkstore.Chunk) error {
	err := stream.Send(resp)
	for _, c := range acquired {
		c.Release()
	}
	if err != nil {
		return errWriteFailedSample()
	}
	return nil
}
