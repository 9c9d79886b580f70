package grpcx

import (
	"context"
	"errors"
	"strings"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type Directory interface {
	ListRooms(limit int, cursor string) ([]domain.RoomSummary, string, error)
	Roster(roomID string) ([]domain.Participant, error)
}

type Server struct {
	dir Directory
}

func NewServer(dir Directory) *Server {
	return &Server{dir: dir}
}

// NewGRPCServer builds a grpc.Server with the interceptor chain, the
// directory service and the standard health service.
func NewGRPCServer(s *Server) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	RegisterRoomDirectoryServer(gs, s)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(DirectoryServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return gs, hs
}

// ListRooms returns every active room as {rooms: [{room_id, participants}]}.
func (s *Server) ListRooms(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var (
		items  []any
		cursor string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, status.FromContextError(err).Err()
		}
		page, next, err := s.dir.ListRooms(50, cursor)
		if err != nil {
			return nil, mapErr(err)
		}
		for _, r := range page {
			items = append(items, map[string]any{
				"room_id":      r.ID,
				"participants": r.Participants,
			})
		}
		if next == "" {
			break
		}
		cursor = next
	}

	out, err := structpb.NewStruct(map[string]any{"rooms": orEmpty(items)})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) ListParticipants(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	roomID := strings.TrimSpace(in.GetValue())
	parts, err := s.dir.Roster(roomID)
	if err != nil {
		return nil, mapErr(err)
	}

	items := make([]any, 0, len(parts))
	for _, p := range parts {
		items = append(items, map[string]any{
			"connection_id": p.ConnectionID,
			"display_name":  p.DisplayName,
			"mic_enabled":   p.MicEnabled,
			"video_enabled": p.VideoEnabled,
			"joined_at":     p.JoinedAt.Unix(),
		})
	}

	out, err := structpb.NewStruct(map[string]any{"room_id": roomID, "participants": items})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidRoom), errors.Is(err, service.ErrInvalidCursor):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func orEmpty(items []any) []any {
	if items == nil {
		return []any{}
	}
	return items
}
