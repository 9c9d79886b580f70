// Package meeting is the client side of a room: it keeps the hub
// connection, one peer orchestrator per joined room, and the session store
// in step with each other.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/hubclient"
	"github.com/cwrk-planet/signal-service/internal/peer"
	"github.com/cwrk-planet/signal-service/internal/protocol"
	"github.com/cwrk-planet/signal-service/internal/service"
	"github.com/cwrk-planet/signal-service/internal/store"
)

var (
	ErrNotJoined     = errors.New("not in a room")
	ErrNoLocalMedia  = errors.New("local media not available")
	ErrAlreadyJoined = errors.New("meeting already joined")
)

// Media is a local capture source.
type Media interface {
	peer.LocalMedia
	Stop()
}

// AudioMuter is implemented by sources that can pause their audio output.
type AudioMuter interface {
	SetAudioEnabled(bool)
}

type Options struct {
	Factory peer.Factory
	Codec   protocol.Codec
	Header  http.Header
	Logger  *slog.Logger

	// MicEnabled and VideoEnabled are the toggles announced on join.
	MicEnabled   bool
	VideoEnabled bool
	ChatPolicy   service.ChatPolicy
	Clock        func() time.Time

	// JoinTimeout bounds a join whose context carries no deadline.
	JoinTimeout time.Duration
}

const defaultJoinTimeout = 10 * time.Second

type Meeting struct {
	opts  Options
	log   *slog.Logger
	store *store.Store

	// mu orders roster handling against Join seeding the same roster.
	mu     sync.Mutex
	client *hubclient.Client
	orch   *peer.Orchestrator
	media  Media
	roomID string

	closeOnce sync.Once
}

// Dial connects to the hub at url. The returned meeting is connected but
// not yet in a room.
func Dial(ctx context.Context, url string, opts Options) (*Meeting, error) {
	if opts.Factory == nil {
		return nil, errors.New("meeting: peer factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ChatPolicy.MaxLength <= 0 {
		opts.ChatPolicy = service.NewChatPolicy(0)
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}

	st := store.New(store.State{
		MicEnabled:   opts.MicEnabled,
		VideoEnabled: opts.VideoEnabled,
	}, opts.Logger)
	m := &Meeting{
		opts:  opts,
		log:   opts.Logger.With("component", "meeting"),
		store: st,
	}
	client, err := hubclient.Dial(ctx, url, hubclient.Options{
		Codec:   opts.Codec,
		Header:  opts.Header,
		Handler: m.handleFrame,
		Logger:  opts.Logger,
	})
	if err != nil {
		m.store.Close()
		return nil, err
	}

	m.mu.Lock()
	m.client = client
	m.log = m.log.With("conn", client.ID())
	m.mu.Unlock()
	if _, err := m.store.Update(func(st *store.State) {
		st.ConnectionID = client.ID()
		st.Connected = true
	}); err != nil {
		_ = client.Close()
		return nil, err
	}

	go m.watch()
	return m, nil
}

func (m *Meeting) ID() string { return m.client.ID() }

func (m *Meeting) Store() *store.Store { return m.store }

func (m *Meeting) Done() <-chan struct{} { return m.client.Done() }

// Sessions reports the peer sessions of the current room.
func (m *Meeting) Sessions() []peer.SessionInfo {
	m.mu.Lock()
	orch := m.orch
	m.mu.Unlock()
	if orch == nil {
		return nil
	}
	return orch.Sessions()
}

// Join enters roomID and starts a peer session for every member already
// there.
func (m *Meeting) Join(ctx context.Context, roomID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.roomID != "" {
		return ErrAlreadyJoined
	}

	// Roster handling waits on mu, so the reply wait must end.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.JoinTimeout)
		defer cancel()
	}

	snap := m.store.Snapshot()
	res, err := m.client.Join(ctx, protocol.JoinRequest{
		RoomID:       roomID,
		DisplayName:  name,
		MicEnabled:   snap.MicEnabled,
		VideoEnabled: snap.VideoEnabled,
	})
	if err != nil {
		return fmt.Errorf("join %q: %w", roomID, err)
	}

	m.roomID = res.RoomID
	m.orch = peer.NewOrchestrator(peer.Options{
		LocalID:  m.client.ID(),
		Factory:  m.opts.Factory,
		Signaler: m.client,
		Logger:   m.opts.Logger,
		OnRemoteTrack: func(remoteID string, _ peer.RemoteTrack) {
			_ = m.store.Dispatch(func(st *store.State) {
				st.UpdateParticipant(remoteID, func(p *store.Participant) { p.HasStream = true })
			})
		},
		OnSessionClosed: func(remoteID string) {
			_ = m.store.Dispatch(func(st *store.State) {
				st.UpdateParticipant(remoteID, func(p *store.Participant) { p.HasStream = false })
			})
		},
		OnError: func(err error) {
			m.log.Warn("peer session error", "err", err)
		},
	})
	if m.media != nil {
		if err := m.orch.SetLocalMedia(m.media); err != nil {
			m.log.Warn("attach local media", "err", err)
		}
	}

	displayName := domain.NormalizeDisplayName(name)
	if _, err := m.store.Update(func(st *store.State) {
		st.RoomID = res.RoomID
		st.Username = displayName
		for _, p := range res.Participants {
			st.UpsertParticipant(fromItem(p))
		}
	}); err != nil {
		return err
	}

	for _, p := range res.Participants {
		if err := m.orch.AddPeer(p.ConnectionID); err != nil {
			m.log.Warn("add peer", "remote", p.ConnectionID, "err", err)
		}
	}
	m.log.Info("joined room", "room", res.RoomID, "participants", len(res.Participants))
	return nil
}

// SetLocalMedia makes media available to current and future peer sessions.
// Only the first call has an effect.
func (m *Meeting) SetLocalMedia(media Media) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.media != nil || media == nil {
		return nil
	}
	m.media = media
	snap := m.store.Snapshot()
	if mu, ok := media.(AudioMuter); ok {
		mu.SetAudioEnabled(snap.MicEnabled)
	}
	if _, err := m.store.Update(func(st *store.State) { st.MediaReady = true }); err != nil {
		return err
	}
	if m.orch != nil {
		return m.orch.SetLocalMedia(media)
	}
	return nil
}

func (m *Meeting) ToggleMic() (bool, error) {
	return m.toggle(domain.MediaMic)
}

func (m *Meeting) ToggleVideo() (bool, error) {
	return m.toggle(domain.MediaVideo)
}

func (m *Meeting) toggle(kind domain.MediaKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.media == nil {
		return false, ErrNoLocalMedia
	}

	var enabled bool
	if _, err := m.store.Update(func(st *store.State) {
		switch kind {
		case domain.MediaMic:
			st.MicEnabled = !st.MicEnabled
			enabled = st.MicEnabled
		case domain.MediaVideo:
			st.VideoEnabled = !st.VideoEnabled
			enabled = st.VideoEnabled
		}
	}); err != nil {
		return false, err
	}

	if kind == domain.MediaMic {
		if mu, ok := m.media.(AudioMuter); ok {
			mu.SetAudioEnabled(enabled)
		}
	}
	if m.roomID != "" {
		if err := m.client.SendMediaStatus(m.roomID, string(kind), enabled); err != nil {
			return enabled, err
		}
	}
	return enabled, nil
}

// SendChat relays text to the room and appends it to the local log.
func (m *Meeting) SendChat(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.roomID == "" {
		return ErrNotJoined
	}
	text, err := m.opts.ChatPolicy.Normalize(text)
	if err != nil {
		return err
	}
	if err := m.client.SendChat(m.roomID, text); err != nil {
		return err
	}
	now := m.opts.Clock()
	return m.store.Dispatch(func(st *store.State) {
		st.AppendChat(store.ChatLine{Text: text, Sender: st.Username, At: now})
	})
}

// Leave exits the room, tears down every peer session and stops local
// media. The hub connection stays open for another Join.
func (m *Meeting) Leave() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(true)
}

func (m *Meeting) leaveLocked(notify bool) error {
	var errs []error
	if m.roomID != "" && notify {
		if err := m.client.Leave(); err != nil && !errors.Is(err, hubclient.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if m.orch != nil {
		if err := m.orch.Close(); err != nil {
			errs = append(errs, err)
		}
		m.orch = nil
	}
	if m.media != nil {
		m.media.Stop()
		m.media = nil
	}
	if m.roomID != "" {
		m.log.Info("left room", "room", m.roomID)
	}
	m.roomID = ""
	if _, err := m.store.Update(func(st *store.State) { st.ResetRoom() }); err != nil && !errors.Is(err, store.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close leaves the room if needed and drops the hub connection.
func (m *Meeting) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		err = m.leaveLocked(true)
		m.mu.Unlock()
		err = errors.Join(err, m.client.Close())
		<-m.client.Done()
		m.store.Close()
	})
	return err
}

// watch tears local state down when the hub connection drops.
func (m *Meeting) watch() {
	<-m.client.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.leaveLocked(false); err != nil {
		m.log.Debug("teardown after disconnect", "err", err)
	}
	_ = m.store.Dispatch(func(st *store.State) { st.Connected = false })
}

func (m *Meeting) handleFrame(f protocol.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch f.Type {
	case protocol.TypeRosterJoin:
		var p protocol.ParticipantItem
		if !m.bind(f, &p) {
			return
		}
		now := m.opts.Clock()
		_ = m.store.Dispatch(func(st *store.State) {
			st.UpsertParticipant(fromItem(p))
			st.AppendChat(store.ChatLine{
				Text:   p.DisplayName + " has joined the room!",
				System: true,
				At:     now,
			})
		})
		if m.orch != nil {
			if err := m.orch.AddPeer(p.ConnectionID); err != nil {
				m.log.Warn("add peer", "remote", p.ConnectionID, "err", err)
			}
		}

	case protocol.TypeRosterLeave:
		var p protocol.RosterLeavePayload
		if !m.bind(f, &p) {
			return
		}
		_ = m.store.Dispatch(func(st *store.State) {
			st.RemoveParticipant(p.ConnectionID)
		})
		if m.orch != nil {
			if err := m.orch.RemovePeer(p.ConnectionID); err != nil {
				m.log.Debug("remove peer", "remote", p.ConnectionID, "err", err)
			}
		}

	case protocol.TypeReceiveOffer, protocol.TypeReceiveAnswer, protocol.TypeReceiveIceCandidate:
		var p protocol.SignalPayload
		if !m.bind(f, &p) || m.orch == nil {
			return
		}
		var err error
		switch f.Type {
		case protocol.TypeReceiveOffer:
			err = m.orch.HandleOffer(p.SenderConnectionID, p.Payload)
		case protocol.TypeReceiveAnswer:
			err = m.orch.HandleAnswer(p.SenderConnectionID, p.Payload)
		default:
			err = m.orch.HandleIceCandidate(p.SenderConnectionID, p.Payload)
		}
		if err != nil {
			m.log.Warn("signal rejected", "type", f.Type, "remote", p.SenderConnectionID, "err", err)
		}

	case protocol.TypeReceiveMediaStatus:
		var p protocol.MediaStatusPayload
		if !m.bind(f, &p) {
			return
		}
		kind, err := domain.ParseMediaKind(p.Kind)
		if err != nil {
			m.log.Debug("unknown media kind", "remote", p.ConnectionID, "kind", p.Kind)
			return
		}
		_ = m.store.Dispatch(func(st *store.State) {
			st.UpdateParticipant(p.ConnectionID, func(sp *store.Participant) {
				if kind == domain.MediaMic {
					sp.MicEnabled = p.Enabled
				} else {
					sp.VideoEnabled = p.Enabled
				}
			})
		})

	case protocol.TypeReceiveChat:
		var p protocol.ChatPayload
		if !m.bind(f, &p) {
			return
		}
		at := m.opts.Clock()
		if p.TSUnixMilli > 0 {
			at = time.UnixMilli(p.TSUnixMilli)
		}
		_ = m.store.Dispatch(func(st *store.State) {
			st.AppendChat(store.ChatLine{Text: p.Text, Sender: p.SenderName, At: at})
		})

	case protocol.TypeError:
		var p protocol.ErrorPayload
		_ = f.Bind(&p)
		m.log.Warn("hub error", "error", p.Error)

	default:
		m.log.Debug("unhandled event", "type", f.Type)
	}
}

func (m *Meeting) bind(f protocol.Frame, dst any) bool {
	if err := f.Bind(dst); err != nil {
		m.log.Warn("malformed event", "type", f.Type, "err", err)
		return false
	}
	return true
}

func fromItem(p protocol.ParticipantItem) store.Participant {
	return store.Participant{
		ConnectionID: p.ConnectionID,
		DisplayName:  p.DisplayName,
		MicEnabled:   p.MicEnabled,
		VideoEnabled: p.VideoEnabled,
	}
}
