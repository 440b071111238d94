package service

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func errTableNotFound(name string) error {
	return status.Errorf(codes.NotFound, "Priority table %s was not found", name)
}

func errMissingChunk(key uint64) error {
	return status.Errorf(codes.Internal, "Could not find sequence chunk %d.", key)
}

func errServiceClosed() error {
	return status.Error(codes.Canceled, "Service has been closed")
}

func errWriteFailedInsert() error {
	return status.Error(codes.Internal, "Failed to write to Insert stream.")
}

func errWriteFailedSample() error {
	return status.Error(codes.Internal, "Failed to write to Sample stream.")
}

func errNoCheckpointer() error {
	return status.Error(codes.InvalidArgument, "no checkpointer configured")
}

func errRetentionViolation(have, want int) error {
	return status.Errorf(codes.Internal, "retention contract violation: pending_chunks holds %d, keep_chunk_keys wants %d", have, want)
}

// statusFromTableError maps a Table collaborator error to a transport
// status. If the collaborator already returned a status error, it is
// propagated unchanged (spec.md §6, "other codes surface unchanged from
// collaborators").
func statusFromTableError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Errorf(codes.Internal, "%v", err)
}
