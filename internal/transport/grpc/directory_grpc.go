package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The directory service is small enough to declare by hand over
// well-known types, so there is no generated code to keep in sync.
const (
	DirectoryServiceName   = "signal.v1.RoomDirectory"
	listRoomsMethod        = "/signal.v1.RoomDirectory/ListRooms"
	listParticipantsMethod = "/signal.v1.RoomDirectory/ListParticipants"
)

type RoomDirectoryServer interface {
	ListRooms(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListParticipants(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

var RoomDirectoryServiceDesc = grpc.ServiceDesc{
	ServiceName: DirectoryServiceName,
	HandlerType: (*RoomDirectoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRooms", Handler: listRoomsHandler},
		{MethodName: "ListParticipants", Handler: listParticipantsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "signal/v1/directory.proto",
}

func RegisterRoomDirectoryServer(s grpc.ServiceRegistrar, srv RoomDirectoryServer) {
	s.RegisterService(&RoomDirectoryServiceDesc, srv)
}

func listRoomsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomDirectoryServer).ListRooms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listRoomsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RoomDirectoryServer).ListRooms(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listParticipantsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomDirectoryServer).ListParticipants(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listParticipantsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RoomDirectoryServer).ListParticipants(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RoomDirectoryClient is the client half of the same service.
type RoomDirectoryClient struct {
	cc grpc.ClientConnInterface
}

func NewRoomDirectoryClient(cc grpc.ClientConnInterface) *RoomDirectoryClient {
	return &RoomDirectoryClient{cc: cc}
}

func (c *RoomDirectoryClient) ListRooms(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listRoomsMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RoomDirectoryClient) ListParticipants(ctx context.Context, roomID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listParticipantsMethod, wrapperspb.String(roomID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
