package replayv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReplayServer is the server API for the replay buffer service
// (spec.md §6, RPC surface). It is the interface protoc-gen-go-grpc would
// generate from a replay.proto service definition.
type ReplayServer interface {
	Checkpoint(context.Context, *CheckpointRequest) (*CheckpointResponse, error)
	InsertStream(Replay_InsertStreamServer) error
	MutatePriorities(context.Context, *MutatePrioritiesRequest) (*MutatePrioritiesResponse, error)
	Reset(context.Context, *ResetRequest) (*ResetResponse, error)
	SampleStream(Replay_SampleStreamServer) error
	ServerInfo(context.Context, *ServerInfoRequest) (*ServerInfoResponse, error)
	InitializeConnection(Replay_InitializeConnectionServer) error
}

// UnimplementedReplayServer embeds into a ReplayServer implementation to
// satisfy forward compatibility the way generated code does: new methods
// added to ReplayServer fall back here instead of breaking the build.
type UnimplementedReplayServer struct{}

func (UnimplementedReplayServer) Checkpoint(context.Context, *CheckpointRequest) (*CheckpointResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Checkpoint not implemented")
}

func (UnimplementedReplayServer) InsertStream(Replay_InsertStreamServer) error {
	return status.Error(codes.Unimplemented, "method InsertStream not implemented")
}

func (UnimplementedReplayServer) MutatePriorities(context.Context, *MutatePrioritiesRequest) (*MutatePrioritiesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method MutatePriorities not implemented")
}

func (UnimplementedReplayServer) Reset(context.Context, *ResetRequest) (*ResetResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Reset not implemented")
}

func (UnimplementedReplayServer) SampleStream(Replay_SampleStreamServer) error {
	return status.Error(codes.Unimplemented, "method SampleStream not implemented")
}

func (UnimplementedReplayServer) ServerInfo(context.Context, *ServerInfoRequest) (*ServerInfoResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ServerInfo not implemented")
}

func (UnimplementedReplayServer) InitializeConnection(Replay_InitializeConnectionServer) error {
	return status.Error(codes.Unimplemented, "method InitializeConnection not implemented")
}

// Replay_InsertStreamServer is the server-side stream handle for InsertStream.
type Replay_InsertStreamServer interface {
	Send(*InsertStreamResponse) error
	Recv() (*InsertStreamRequest, error)
	grpc.ServerStream
}

type replayInsertStreamServer struct {
	grpc.ServerStream
}

func (x *replayInsertStreamServer) Send(m *InsertStreamResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *replayInsertStreamServer) Recv() (*InsertStreamRequest, error) {
	m := new(InsertStreamRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Replay_SampleStreamServer is the server-side stream handle for SampleStream.
type Replay_SampleStreamServer interface {
	Send(*SampleStreamResponse) error
	Recv() (*SampleStreamRequest, error)
	grpc.ServerStream
}

type replaySampleStreamServer struct {
	grpc.ServerStream
}

func (x *replaySampleStreamServer) Send(m *SampleStreamResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *replaySampleStreamServer) Recv() (*SampleStreamRequest, error) {
	m := new(SampleStreamRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Replay_InitializeConnectionServer is the server-side stream handle for the
// in-process handshake.
type Replay_InitializeConnectionServer interface {
	Send(*InitializeConnectionResponse) error
	Recv() (*InitializeConnectionRequest, error)
	grpc.ServerStream
}

type replayInitializeConnectionServer struct {
	grpc.ServerStream
}

func (x *replayInitializeConnectionServer) Send(m *InitializeConnectionResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *replayInitializeConnectionServer) Recv() (*InitializeConnectionRequest, error) {
	m := new(InitializeConnectionRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Replay_InsertStream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ReplayServer).InsertStream(&replayInsertStreamServer{stream})
}

func _Replay_SampleStream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ReplayServer).SampleStream(&replaySampleStreamServer{stream})
}

func _Replay_InitializeConnection_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ReplayServer).InitializeConnection(&replayInitializeConnectionServer{stream})
}

func _Replay_Checkpoint_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckpointRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplayServer).Checkpoint(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReplayServiceName + "/Checkpoint"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReplayServer).Checkpoint(ctx, req.(*CheckpointRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Replay_MutatePriorities_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MutatePrioritiesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplayServer).MutatePriorities(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReplayServiceName + "/MutatePriorities"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReplayServer).MutatePriorities(ctx, req.(*MutatePrioritiesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Replay_Reset_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ResetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplayServer).Reset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReplayServiceName + "/Reset"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReplayServer).Reset(ctx, req.(*ResetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Replay_ServerInfo_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ServerInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplayServer).ServerInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReplayServiceName + "/ServerInfo"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReplayServer).ServerInfo(ctx, req.(*ServerInfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ReplayServiceName is the fully qualified gRPC service name.
const ReplayServiceName = "cartridge.reverb.v1.Replay"

// ReplayServiceDesc is the grpc.ServiceDesc for the Replay service, built by
// hand in the shape protoc-gen-go-grpc emits.
var ReplayServiceDesc = grpc.ServiceDesc{
	ServiceName: ReplayServiceName,
	HandlerType: (*ReplayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Checkpoint", Handler: _Replay_Checkpoint_Handler},
		{MethodName: "MutatePriorities", Handler: _Replay_MutatePriorities_Handler},
		{MethodName: "Reset", Handler: _Replay_Reset_Handler},
		{MethodName: "ServerInfo", Handler: _Replay_ServerInfo_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "InsertStream", Handler: _Replay_InsertStream_Handler, ServerStreams: true, ClientStreams: true},
		{StreamName: "SampleStream", Handler: _Replay_SampleStream_Handler, ServerStreams: true, ClientStreams: true},
		{StreamName: "InitializeConnection", Handler: _Replay_InitializeConnection_Handler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "replay/v1/replay.proto",
}

// RegisterReplayServer registers srv on s, the way generated code does.
func RegisterReplayServer(s grpc.ServiceRegistrar, srv ReplayServer) {
	s.RegisterService(&ReplayServiceDesc, srv)
}
