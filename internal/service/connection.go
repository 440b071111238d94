package service

import (
	"net"
	"os"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/cartridge/reverb/internal/table"
	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

// connectionHolder is the heap-owned slot transferred to a co-located
// client during InitializeConnection (spec.md §4.10). The client is
// expected to materialize its own shared Table reference from the address
// it receives; the server drops this holder if the handshake fails before
// the confirmation and keeps it registered once transfer is confirmed.
//
// The original C++ handshake sent the holder's raw memory address
// (reinterpret_cast<int64_t>(ptr)) across the wire. Go gives no sound way
// to persist an unsafe.Pointer-derived address beyond the statement that
// produced it, so this service substitutes an opaque int64 handle into a
// server-side registry; ResolveConnection looks a handle back up to its
// Table for an in-process caller that already holds one (see DESIGN.md).
type connectionHolder struct {
	table table.Table
}

// InitializeConnection implements the in-process fast-path handshake
// (spec.md §4.10).
func (s *Service) InitializeConnection(stream replayv1.Replay_InitializeConnectionServer) error {
	correlationID := uuid.New()
	log := s.logger.With().Stringer("handshake_id", correlationID).Logger()

	p, ok := peer.FromContext(stream.Context())
	if !ok || !isLocalhostOrInProcess(p.Addr) {
		// Non-local peer: close with OK and no response. Clients observe
		// EOF and treat it as "fast path unsupported" (spec.md §9, open
		// question 1).
		log.Debug().Msg("declining InitializeConnection for non-local peer")
		return nil
	}

	req, err := stream.Recv()
	if err != nil {
		return status.Error(codes.Internal, "failed to read InitializeConnection request")
	}

	if req.Pid != currentPid() {
		log.Debug().Int64("requested_pid", req.Pid).Msg("InitializeConnection pid mismatch")
		if err := stream.Send(&replayv1.InitializeConnectionResponse{Address: 0}); err != nil {
			return status.Error(codes.Internal, "failed to write InitializeConnection response")
		}
		return nil
	}

	tbl, ok := s.tablesByName[req.TableName]
	if !ok {
		return errTableNotFound(req.TableName)
	}

	handle := s.registerHolder(tbl)
	transferred := false
	defer func() {
		if !transferred {
			s.releaseHolder(handle)
		}
	}()

	if err := stream.Send(&replayv1.InitializeConnectionResponse{Address: handle}); err != nil {
		return status.Error(codes.Internal, "failed to write InitializeConnection response")
	}

	confirm, err := stream.Recv()
	if err != nil {
		return status.Error(codes.Internal, "failed to read InitializeConnection confirmation")
	}
	if !confirm.OwnershipTransferred {
		return status.Error(codes.Internal, "unexpected InitializeConnection confirmation payload")
	}

	transferred = true
	log.Debug().Str("table", req.TableName).Msg("InitializeConnection ownership transferred")
	return nil
}

func (s *Service) registerHolder(tbl table.Table) int64 {
	handle := s.nextHandle.Inc()
	s.connMu.Lock()
	s.connHandles[handle] = &connectionHolder{table: tbl}
	s.connMu.Unlock()
	return handle
}

func (s *Service) releaseHolder(handle int64) {
	s.connMu.Lock()
	delete(s.connHandles, handle)
	s.connMu.Unlock()
}

// ResolveConnection looks up the Table behind a handle obtained from a
// prior InitializeConnection handshake, for an in-process caller that has
// already observed ownership_transferred. It does not remove the holder: a
// confirmed handshake leaves its holder registered for the lifetime of the
// Service, so callers within the same process that hold the handle value
// can resolve it again.
func (s *Service) ResolveConnection(handle int64) (table.Table, bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	h, ok := s.connHandles[handle]
	if !ok {
		return nil, false
	}
	return h.table, true
}

func currentPid() int64 {
	return int64(os.Getpid())
}

// isLocalhostOrInProcess reports whether addr is a loopback network
// address or an in-process transport (e.g. bufconn's pipe), the peers
// InitializeConnection's fast path is offered to (spec.md §4.10).
func isLocalhostOrInProcess(addr net.Addr) bool {
	if addr == nil {
		return false
	}

	switch addr.Network() {
	case "pipe", "bufconn", "inprocess":
		return true
	}

	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
