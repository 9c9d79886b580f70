package peer

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// PeerConn is the part of a peer connection the orchestrator drives.
// The pion adapter is the production implementation. There is no rollback:
// a pending local offer is abandoned by replacing the connection.
type PeerConn interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(SessionDescription) error
	SetRemoteDescription(SessionDescription) error
	AddICECandidate(ICECandidate) error
	AddTracks(LocalMedia) error
	Close() error
}

// LocalMedia is whatever the local client captures or synthesizes.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
}

// RemoteTrack describes a track announced by the remote side.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
}

// Hooks are callbacks a PeerConn fires. They may run on any goroutine.
type Hooks struct {
	OnICECandidate      func(ICECandidate)
	OnNegotiationNeeded func()
	OnTrack             func(RemoteTrack)
	OnConnectionState   func(string)
}

// Factory creates the peer connection for one remote participant.
type Factory func(remoteID string, hooks Hooks) (PeerConn, error)

// SessionInfo is a read-only view of a session.
type SessionInfo struct {
	RemoteID        string
	State           State
	TracksAttached  bool
	HasRemoteStream bool
}

type session struct {
	remoteID string
	pc       PeerConn
	// live is cleared when pc is retired; its hooks check it
	live  *atomic.Bool
	state State

	tracksAttached  bool
	hasRemoteStream bool

	remoteDescSet bool
	// candidates received before the remote description
	pendingCandidates []ICECandidate
	// candidates already applied, replayed onto a replacement pc
	appliedCandidates []ICECandidate
	// negotiation requested while an offer was in flight
	renegotiate bool
	// local offer set on pc but never delivered
	offerUnsent bool
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		RemoteID:        s.remoteID,
		State:           s.state,
		TracksAttached:  s.tracksAttached,
		HasRemoteStream: s.hasRemoteStream,
	}
}

func (s *session) transition(to State) error {
	if !s.state.CanTransition(to) {
		return newError("transition", s.remoteID, ErrInvalidTransition)
	}
	s.state = to
	return nil
}

// attach adds local tracks at most once.
func (s *session) attach(media LocalMedia) error {
	if s.tracksAttached || media == nil {
		return nil
	}
	if err := s.pc.AddTracks(media); err != nil {
		return newError("add tracks", s.remoteID, err)
	}
	s.tracksAttached = true
	return nil
}

// close is safe from any state and on repeat.
func (s *session) close() error {
	if s.state == Closed {
		return nil
	}
	s.state = Closed
	s.live.Store(false)
	s.pendingCandidates = nil
	s.appliedCandidates = nil
	if err := s.pc.Close(); err != nil {
		return newError("close", s.remoteID, err)
	}
	return nil
}
