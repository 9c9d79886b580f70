package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	grpcx "github.com/cwrk-planet/signal-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/signal-service/internal/transport/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	directoryTimeout = 5 * time.Second
	pageSize         = 50
)

// directory is the read side of the room directory, served over REST or
// gRPC.
type directory interface {
	ListRooms(ctx context.Context) ([]roomRow, error)
	Participants(ctx context.Context, roomID string) ([]participantRow, error)
	Close() error
}

func newDirectory(cfg Config) (directory, error) {
	if cfg.GRPCAddr != "" {
		return newGRPCDirectory(cfg.GRPCAddr)
	}
	return newRESTDirectory(cfg.HTTPURL, nil), nil
}

type restDirectory struct {
	base string
	hc   *http.Client
}

func newRESTDirectory(base string, hc *http.Client) *restDirectory {
	if hc == nil {
		hc = &http.Client{Timeout: directoryTimeout}
	}
	return &restDirectory{base: base, hc: hc}
}

func (d *restDirectory) Close() error { return nil }

// ListRooms follows cursors until the last page.
func (d *restDirectory) ListRooms(ctx context.Context) ([]roomRow, error) {
	var (
		out    []roomRow
		cursor string
	)
	for {
		q := url.Values{"limit": {strconv.Itoa(pageSize)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page httpx.RoomsListResponse
		if err := d.do(ctx, http.MethodGet, "/rooms?"+q.Encode(), &page); err != nil {
			return nil, err
		}
		for _, r := range page.Items {
			out = append(out, roomRow{ID: r.ID, Participants: r.Participants})
		}
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

func (d *restDirectory) Participants(ctx context.Context, roomID string) ([]participantRow, error) {
	var res httpx.ParticipantsResponse
	if err := d.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID)+"/participants", &res); err != nil {
		return nil, err
	}
	out := make([]participantRow, 0, len(res.Items))
	for _, p := range res.Items {
		out = append(out, participantRow{
			ConnectionID: p.ConnectionID,
			DisplayName:  p.DisplayName,
			MicEnabled:   p.MicEnabled,
			VideoEnabled: p.VideoEnabled,
		})
	}
	return out, nil
}

func (d *restDirectory) CreateRoom(ctx context.Context) (string, error) {
	var res httpx.CreateRoomResponse
	if err := d.do(ctx, http.MethodPost, "/rooms", &res); err != nil {
		return "", err
	}
	return res.RoomID, nil
}

func (d *restDirectory) do(ctx context.Context, method, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, d.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.hc.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e httpx.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("directory: %s (%d)", e.Error, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

type grpcDirectory struct {
	conn   *grpc.ClientConn
	client *grpcx.RoomDirectoryClient
}

func newGRPCDirectory(target string) (*grpcDirectory, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("directory client: new client failed: %w", err)
	}
	return newGRPCDirectoryConn(conn), nil
}

func newGRPCDirectoryConn(conn *grpc.ClientConn) *grpcDirectory {
	return &grpcDirectory{conn: conn, client: grpcx.NewRoomDirectoryClient(conn)}
}

func (d *grpcDirectory) Close() error { return d.conn.Close() }

func (d *grpcDirectory) ListRooms(ctx context.Context) ([]roomRow, error) {
	ctx, cancel := context.WithTimeout(ctx, directoryTimeout)
	defer cancel()

	res, err := d.client.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	var out []roomRow
	for _, v := range res.GetFields()["rooms"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		out = append(out, roomRow{
			ID:           f["room_id"].GetStringValue(),
			Participants: int(f["participants"].GetNumberValue()),
		})
	}
	return out, nil
}

func (d *grpcDirectory) Participants(ctx context.Context, roomID string) ([]participantRow, error) {
	ctx, cancel := context.WithTimeout(ctx, directoryTimeout)
	defer cancel()

	res, err := d.client.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var out []participantRow
	for _, v := range res.GetFields()["participants"].GetListValue().GetValues() {
		out = append(out, participantFromStruct(v.GetStructValue()))
	}
	return out, nil
}

func participantFromStruct(s *structpb.Struct) participantRow {
	f := s.GetFields()
	return participantRow{
		ConnectionID: f["connection_id"].GetStringValue(),
		DisplayName:  f["display_name"].GetStringValue(),
		MicEnabled:   f["mic_enabled"].GetBoolValue(),
		VideoEnabled: f["video_enabled"].GetBoolValue(),
	}
}
