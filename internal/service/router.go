package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/protocol"
	"github.com/cwrk-planet/signal-service/internal/registry"
)

// Channel delivers messages to connections. Implementations must keep
// messages to the same connection in order and must not block for long.
// Send to an unknown connection yields domain.ErrConnNotFound; Broadcast
// reaches every live connection and reports how many took the message.
type Channel interface {
	Send(connID string, msg protocol.Message) error
	Broadcast(msg protocol.Message) int
}

// Router handles client invocations: registry mutation plus relay and
// broadcast. Calls for one connection are expected to be serialized by the
// transport; calls for different connections may run concurrently.
type Router struct {
	reg  *registry.Registry
	ch   Channel
	chat ChatPolicy
	now  func() time.Time
	log  *slog.Logger
}

type RouterOption func(*Router)

func WithChatPolicy(p ChatPolicy) RouterOption {
	return func(r *Router) { r.chat = p }
}

func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.log = l }
}

func NewRouter(reg *registry.Registry, ch Channel, opts ...RouterOption) *Router {
	r := &Router{
		reg:  reg,
		ch:   ch,
		chat: NewChatPolicy(0),
		now:  time.Now,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Join registers connID in the requested room and returns the members that
// were there before it. Pre-existing members get a roster_join; the caller
// does not. Joining the same room again is a no-op that returns the current
// roster, joining another room leaves the old one first.
func (r *Router) Join(connID string, req protocol.JoinRequest) (protocol.JoinedPayload, error) {
	roomID, err := domain.NormalizeRoomID(req.RoomID)
	if err != nil {
		return protocol.JoinedPayload{}, fmt.Errorf("join: %w", err)
	}

	if cur, ok := r.reg.Get(connID); ok && cur.RoomID != roomID {
		r.Leave(connID)
	}

	p := domain.Participant{
		ConnectionID: connID,
		RoomID:       roomID,
		DisplayName:  domain.NormalizeDisplayName(req.DisplayName),
		MicEnabled:   req.MicEnabled,
		VideoEnabled: req.VideoEnabled,
		JoinedAt:     r.now(),
	}
	others, created := r.reg.Admit(p)

	if created {
		msg := protocol.Message{Type: protocol.TypeRosterJoin, Payload: toItem(p)}
		for _, o := range others {
			r.send(o.ConnectionID, msg)
		}
		r.log.Info("participant joined", "conn", connID, "room", roomID, "others", len(others))
	}

	sort.Slice(others, func(i, j int) bool {
		if !others[i].JoinedAt.Equal(others[j].JoinedAt) {
			return others[i].JoinedAt.Before(others[j].JoinedAt)
		}
		return others[i].ConnectionID < others[j].ConnectionID
	})
	items := make([]protocol.ParticipantItem, 0, len(others))
	for _, o := range others {
		items = append(items, toItem(o))
	}
	return protocol.JoinedPayload{RoomID: roomID, Participants: items}, nil
}

// Leave removes connID and tells the rest of its room. Only the call that
// actually removes the entry broadcasts.
func (r *Router) Leave(connID string) {
	p, ok := r.reg.Remove(connID)
	if !ok {
		return
	}
	r.broadcast(p.RoomID, connID, protocol.Message{
		Type:    protocol.TypeRosterLeave,
		Payload: protocol.RosterLeavePayload{ConnectionID: connID},
	})
	r.log.Info("participant left", "conn", connID, "room", p.RoomID)
}

// Disconnect is Leave triggered by the transport.
func (r *Router) Disconnect(connID string) {
	r.Leave(connID)
}

func (r *Router) RelayOffer(from string, req protocol.RelayRequest) {
	r.relay(from, protocol.TypeReceiveOffer, req)
}

func (r *Router) RelayAnswer(from string, req protocol.RelayRequest) {
	r.relay(from, protocol.TypeReceiveAnswer, req)
}

func (r *Router) RelayIceCandidate(from string, req protocol.RelayRequest) {
	r.relay(from, protocol.TypeReceiveIceCandidate, req)
}

// RelayChat forwards text to the other members of the room. Callers outside
// the room are ignored.
func (r *Router) RelayChat(from string, req protocol.ChatRequest) error {
	text, err := r.chat.Normalize(req.Text)
	if err != nil {
		return fmt.Errorf("relay chat: %w", err)
	}
	p, ok := r.member(from, req.RoomID)
	if !ok {
		return nil
	}

	r.broadcast(p.RoomID, from, protocol.Message{
		Type: protocol.TypeReceiveChat,
		Payload: protocol.ChatPayload{
			RoomID:             p.RoomID,
			SenderConnectionID: from,
			SenderName:         p.DisplayName,
			Text:               text,
			TSUnixMilli:        r.now().UnixMilli(),
		},
	})
	return nil
}

// RelayGlobalChat sends text to every connected client, the caller
// included. Room membership is not required.
func (r *Router) RelayGlobalChat(from string, req protocol.GlobalChatRequest) error {
	text, err := r.chat.Normalize(req.Text)
	if err != nil {
		return fmt.Errorf("relay global chat: %w", err)
	}
	n := r.ch.Broadcast(protocol.Message{
		Type: protocol.TypeReceiveGlobalChat,
		Payload: protocol.GlobalChatPayload{
			SenderConnectionID: from,
			Text:               text,
			TSUnixMilli:        r.now().UnixMilli(),
		},
	})
	r.log.Debug("global chat", "conn", from, "delivered", n)
	return nil
}

// RelayMediaStatus records the flag and forwards it to the rest of the room.
func (r *Router) RelayMediaStatus(from string, req protocol.MediaStatusRequest) error {
	kind, err := domain.ParseMediaKind(req.Kind)
	if err != nil {
		return fmt.Errorf("relay media status: %w", err)
	}
	if _, ok := r.member(from, req.RoomID); !ok {
		return nil
	}
	p, ok := r.reg.SetMedia(from, kind, req.Enabled)
	if !ok {
		return nil
	}

	r.broadcast(p.RoomID, from, protocol.Message{
		Type: protocol.TypeReceiveMediaStatus,
		Payload: protocol.MediaStatusPayload{
			ConnectionID: from,
			Kind:         string(kind),
			Enabled:      req.Enabled,
		},
	})
	return nil
}

func (r *Router) relay(from, typ string, req protocol.RelayRequest) {
	if req.TargetConnectionID == "" || req.TargetConnectionID == from {
		return
	}
	r.send(req.TargetConnectionID, protocol.Message{
		Type:    typ,
		Payload: protocol.SignalPayload{SenderConnectionID: from, Payload: req.Payload},
	})
}

func (r *Router) member(connID, roomID string) (domain.Participant, bool) {
	p, ok := r.reg.Get(connID)
	if !ok || p.RoomID != strings.TrimSpace(roomID) {
		r.log.Debug("caller not in room", "conn", connID, "room", roomID)
		return domain.Participant{}, false
	}
	return p, true
}

func (r *Router) broadcast(roomID, except string, msg protocol.Message) {
	for _, p := range r.reg.ListByRoom(roomID) {
		if p.ConnectionID == except {
			continue
		}
		r.send(p.ConnectionID, msg)
	}
}

func (r *Router) send(to string, msg protocol.Message) {
	err := r.ch.Send(to, msg)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConnNotFound):
		r.log.Debug("drop message for missing connection", "conn", to, "type", msg.Type)
	default:
		r.log.Warn("send failed", "conn", to, "type", msg.Type, "err", err)
	}
}

func toItem(p domain.Participant) protocol.ParticipantItem {
	return protocol.ParticipantItem{
		ConnectionID: p.ConnectionID,
		DisplayName:  p.DisplayName,
		MicEnabled:   p.MicEnabled,
		VideoEnabled: p.VideoEnabled,
	}
}
