package grpcx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/registry"
	"github.com/cwrk-planet/signal-service/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, reg *registry.Registry) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs, hs := NewGRPCServer(NewServer(service.NewRoomDirectory(reg)))
	go func() { _ = gs.Serve(lis) }()

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = cc.Close()
		gs.Stop()
	})
	return cc, hs.Shutdown
}

func TestListRoomsAndParticipants(t *testing.T) {
	reg := registry.New()
	reg.Upsert(domain.Participant{ConnectionID: "a", RoomID: "X", DisplayName: "Ann", VideoEnabled: true})
	reg.Upsert(domain.Participant{ConnectionID: "b", RoomID: "Y", DisplayName: "Bob"})
	cc, _ := startServer(t, reg)
	client := NewRoomDirectoryClient(cc)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rooms, err := client.ListRooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	list := rooms.GetFields()["rooms"].GetListValue().GetValues()
	if len(list) != 2 {
		t.Fatalf("rooms = %v", rooms)
	}
	first := list[0].GetStructValue().GetFields()
	if first["room_id"].GetStringValue() != "X" || first["participants"].GetNumberValue() != 1 {
		t.Fatalf("first room = %v", first)
	}

	parts, err := client.ListParticipants(ctx, "X")
	if err != nil {
		t.Fatal(err)
	}
	pl := parts.GetFields()["participants"].GetListValue().GetValues()
	if len(pl) != 1 {
		t.Fatalf("participants = %v", parts)
	}
	p := pl[0].GetStructValue().GetFields()
	if p["display_name"].GetStringValue() != "Ann" || !p["video_enabled"].GetBoolValue() {
		t.Fatalf("participant = %v", p)
	}
}

func TestListParticipantsInvalidRoom(t *testing.T) {
	cc, _ := startServer(t, registry.New())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewRoomDirectoryClient(cc).ListParticipants(ctx, "  ")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v (%v)", status.Code(err), err)
	}
}

func TestHealth(t *testing.T) {
	cc, shutdown := startServer(t, registry.New())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	hc := healthpb.NewHealthClient(cc)

	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: DirectoryServiceName})
	if err != nil {
		t.Fatal(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", resp.GetStatus())
	}

	shutdown()
	resp, err = hc.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after shutdown = %v", resp.GetStatus())
	}
}

func TestUnaryInterceptorRecoversPanics(t *testing.T) {
	icpt := UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Panic"}

	_, err := icpt(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("no deadline guard")
		}
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v", status.Code(err))
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

// lastRecord returns the last log line with the given message.
func lastRecord(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	var found map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		if rec["msg"] == msg {
			found = rec
		}
	}
	if found == nil {
		t.Fatalf("no %q record in %s", msg, buf.String())
	}
	return found
}

func TestStreamInterceptorRecoversPanics(t *testing.T) {
	buf := captureLogs(t)
	icpt := StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/test/Watch"}

	err := icpt(nil, fakeStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v", status.Code(err))
	}
	rec := lastRecord(t, buf, "grpc stream")
	if rec["level"] != "ERROR" || rec["code"] != "Internal" {
		t.Fatalf("record = %v", rec)
	}
}

func TestStreamInterceptorLevelFollowsCode(t *testing.T) {
	icpt := StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/test/Watch"}
	cases := []struct {
		err   error
		level string
		code  string
	}{
		{nil, "INFO", "OK"},
		{status.Error(codes.Canceled, "gone"), "INFO", "Canceled"},
		{status.Error(codes.InvalidArgument, "bad room"), "WARN", "InvalidArgument"},
		{errors.New("disk on fire"), "ERROR", "Unknown"},
	}
	for _, tc := range cases {
		buf := captureLogs(t)
		_ = icpt(nil, fakeStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
			return tc.err
		})
		rec := lastRecord(t, buf, "grpc stream")
		if rec["level"] != tc.level || rec["code"] != tc.code {
			t.Errorf("err %v: record = %v", tc.err, rec)
		}
	}
}

func TestUnaryInterceptorWarnsOnCallerError(t *testing.T) {
	buf := captureLogs(t)
	icpt := UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/test/List"}

	_, _ = icpt(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "no room")
	})
	rec := lastRecord(t, buf, "grpc unary")
	if rec["level"] != "WARN" || rec["err"] != "no room" {
		t.Fatalf("record = %v", rec)
	}
}
