// Package peer drives one peer connection per remote participant through
// offer/answer/candidate exchange over the signaling hub.
package peer

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

const (
	maxEarlySignals = 64
	maxEarlySenders = 64
)

// Signaler relays payloads to one remote participant through the hub.
type Signaler interface {
	SendOffer(target, payload string) error
	SendAnswer(target, payload string) error
	SendIceCandidate(target, payload string) error
}

type Options struct {
	// LocalID is this client's connection id; it decides glare roles.
	LocalID  string
	Factory  Factory
	Signaler Signaler
	Logger   *slog.Logger

	OnStateChange   func(remoteID string, st State)
	OnRemoteTrack   func(remoteID string, t RemoteTrack)
	OnSessionClosed func(remoteID string)
	// OnError receives failures from hook-driven work that has no caller.
	OnError func(error)
}

type signalKind int

const (
	signalOffer signalKind = iota
	signalAnswer
	signalCandidate
)

type earlySignal struct {
	kind    signalKind
	payload string
}

// Orchestrator owns every PeerSession of the local client. All state
// changes happen under one mutex; observer callbacks run after it is
// released.
type Orchestrator struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	early    map[string][]earlySignal
	media    LocalMedia
	closed   bool
	notes    []func()
}

func NewOrchestrator(opts Options) *Orchestrator {
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Orchestrator{
		opts:     opts,
		log:      l.With("component", "peer", "local", opts.LocalID),
		sessions: make(map[string]*session),
		early:    make(map[string][]earlySignal),
	}
}

// do runs fn under the lock and then delivers queued notifications.
func (o *Orchestrator) do(fn func() error) error {
	o.mu.Lock()
	err := fn()
	notes := o.notes
	o.notes = nil
	o.mu.Unlock()

	for _, n := range notes {
		n()
	}
	return err
}

func (o *Orchestrator) notify(fn func()) {
	o.notes = append(o.notes, fn)
}

// AddPeer creates the session for remoteID if it does not exist yet, attaches
// local media when available and replays signals that arrived early.
func (o *Orchestrator) AddPeer(remoteID string) error {
	return o.do(func() error {
		if o.closed {
			return newError("add peer", remoteID, ErrClosed)
		}
		if _, ok := o.sessions[remoteID]; ok {
			return nil
		}

		pc, live, err := o.connect(remoteID)
		if err != nil {
			return newError("create peer connection", remoteID, err)
		}
		s := &session{remoteID: remoteID, pc: pc, live: live, state: Idle}
		o.sessions[remoteID] = s
		o.log.Debug("peer session created", "remote", remoteID)

		var errs []error
		if err := s.attach(o.media); err != nil {
			errs = append(errs, err)
		}

		buffered := o.early[remoteID]
		delete(o.early, remoteID)
		for _, sig := range buffered {
			if err := o.applyLocked(s, sig); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// RemovePeer tears down the session for remoteID and drops anything
// buffered for it.
func (o *Orchestrator) RemovePeer(remoteID string) error {
	return o.do(func() error {
		delete(o.early, remoteID)
		s, ok := o.sessions[remoteID]
		if !ok {
			return nil
		}
		delete(o.sessions, remoteID)
		err := s.close()
		o.notifyClosed(remoteID)
		return err
	})
}

// Negotiate starts an offer towards remoteID. While an offer is already in
// flight the request is remembered and replayed once the answer lands.
func (o *Orchestrator) Negotiate(remoteID string) error {
	return o.do(func() error {
		if o.closed {
			return nil
		}
		s, ok := o.sessions[remoteID]
		if !ok {
			return nil
		}
		return o.negotiateLocked(s)
	})
}

func (o *Orchestrator) HandleOffer(from, payload string) error {
	return o.handle(from, earlySignal{kind: signalOffer, payload: payload})
}

func (o *Orchestrator) HandleAnswer(from, payload string) error {
	return o.handle(from, earlySignal{kind: signalAnswer, payload: payload})
}

func (o *Orchestrator) HandleIceCandidate(from, payload string) error {
	return o.handle(from, earlySignal{kind: signalCandidate, payload: payload})
}

func (o *Orchestrator) handle(from string, sig earlySignal) error {
	return o.do(func() error {
		if o.closed {
			return nil
		}
		s, ok := o.sessions[from]
		if !ok {
			o.bufferLocked(from, sig)
			return nil
		}
		return o.applyLocked(s, sig)
	})
}

// SetLocalMedia attaches media to every session that has none yet. Only the
// first call has an effect.
func (o *Orchestrator) SetLocalMedia(media LocalMedia) error {
	return o.do(func() error {
		if o.closed {
			return newError("set local media", "", ErrClosed)
		}
		if o.media != nil || media == nil {
			return nil
		}
		o.media = media

		var errs []error
		for _, id := range o.sortedIDsLocked() {
			s := o.sessions[id]
			if s.state == Closed {
				continue
			}
			if err := s.attach(media); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

func (o *Orchestrator) HasLocalMedia() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.media != nil
}

func (o *Orchestrator) Sessions() []SessionInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]SessionInfo, 0, len(o.sessions))
	for _, id := range o.sortedIDsLocked() {
		out = append(out, o.sessions[id].info())
	}
	return out
}

func (o *Orchestrator) Session(remoteID string) (SessionInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[remoteID]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// Close tears down every session. Later calls are no-ops.
func (o *Orchestrator) Close() error {
	return o.do(func() error {
		if o.closed {
			return nil
		}
		o.closed = true
		o.early = make(map[string][]earlySignal)

		var errs []error
		for _, id := range o.sortedIDsLocked() {
			if err := o.sessions[id].close(); err != nil {
				errs = append(errs, err)
			}
			delete(o.sessions, id)
			o.notifyClosed(id)
		}
		return errors.Join(errs...)
	})
}

func (o *Orchestrator) applyLocked(s *session, sig earlySignal) error {
	switch sig.kind {
	case signalOffer:
		return o.offerLocked(s, sig.payload)
	case signalAnswer:
		return o.answerLocked(s, sig.payload)
	default:
		return o.candidateLocked(s, sig.payload)
	}
}

func (o *Orchestrator) negotiateLocked(s *session) error {
	switch s.state {
	case Closed:
		return nil
	case OfferPending:
		s.renegotiate = true
		return nil
	}

	offer, err := s.pc.CreateOffer()
	if err != nil {
		return newError("create offer", s.remoteID, err)
	}
	payload, err := encode(offer)
	if err != nil {
		return newError("encode offer", s.remoteID, err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return newError("set local description", s.remoteID, err)
	}
	// The session only waits for an answer once the offer is on its way;
	// a failed send leaves it negotiable.
	s.offerUnsent = true
	if err := o.opts.Signaler.SendOffer(s.remoteID, payload); err != nil {
		return newError("send offer", s.remoteID, err)
	}
	s.offerUnsent = false
	return o.setState(s, OfferPending)
}

// offerLocked is the responder branch. On glare the side with the lower
// connection id is polite: it abandons its own offer by moving onto a fresh
// peer connection and answers. The other side ignores the colliding offer
// and waits for its answer. An offer that never left is always abandoned.
func (o *Orchestrator) offerLocked(s *session, payload string) error {
	offer, err := decodeDescription(payload, SDPOffer)
	if err != nil {
		return newError("handle offer", s.remoteID, err)
	}
	if s.state == Closed {
		return nil
	}

	if s.state == OfferPending || s.offerUnsent {
		if s.state == OfferPending && !o.polite(s.remoteID) {
			o.log.Debug("ignoring colliding offer", "remote", s.remoteID)
			return nil
		}
		if err := o.replaceConnLocked(s); err != nil {
			return err
		}
		o.log.Debug("abandoned local offer", "remote", s.remoteID)
	}

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return newError("set remote description", s.remoteID, err)
	}
	s.remoteDescSet = true
	o.flushCandidatesLocked(s)

	answer, err := s.pc.CreateAnswer()
	if err != nil {
		return newError("create answer", s.remoteID, err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return newError("set local description", s.remoteID, err)
	}
	ap, err := encode(answer)
	if err != nil {
		return newError("encode answer", s.remoteID, err)
	}
	if err := o.opts.Signaler.SendAnswer(s.remoteID, ap); err != nil {
		return newError("send answer", s.remoteID, err)
	}
	if err := o.setState(s, Stable); err != nil {
		return err
	}
	return o.resumeLocked(s)
}

func (o *Orchestrator) answerLocked(s *session, payload string) error {
	answer, err := decodeDescription(payload, SDPAnswer)
	if err != nil {
		return newError("handle answer", s.remoteID, err)
	}
	if s.state != OfferPending {
		o.log.Debug("ignoring stale answer", "remote", s.remoteID, "state", s.state)
		return nil
	}

	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return newError("set remote description", s.remoteID, err)
	}
	s.remoteDescSet = true
	o.flushCandidatesLocked(s)

	if err := o.setState(s, Stable); err != nil {
		return err
	}
	return o.resumeLocked(s)
}

func (o *Orchestrator) resumeLocked(s *session) error {
	if !s.renegotiate {
		return nil
	}
	s.renegotiate = false
	return o.negotiateLocked(s)
}

func (o *Orchestrator) candidateLocked(s *session, payload string) error {
	c, err := decodeCandidate(payload)
	if err != nil {
		return newError("handle candidate", s.remoteID, err)
	}
	if s.state == Closed {
		return nil
	}
	if !s.remoteDescSet {
		s.pendingCandidates = append(s.pendingCandidates, c)
		return nil
	}
	if err := s.pc.AddICECandidate(c); err != nil {
		return newError("add ice candidate", s.remoteID, err)
	}
	s.appliedCandidates = append(s.appliedCandidates, c)
	return nil
}

func (o *Orchestrator) flushCandidatesLocked(s *session) {
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			o.log.Debug("queued candidate rejected", "remote", s.remoteID, "err", err)
			continue
		}
		s.appliedCandidates = append(s.appliedCandidates, c)
	}
}

// connect builds a peer connection whose hooks go quiet once live is cleared.
func (o *Orchestrator) connect(remoteID string) (PeerConn, *atomic.Bool, error) {
	live := new(atomic.Bool)
	live.Store(true)
	pc, err := o.opts.Factory(remoteID, o.hooks(remoteID, live))
	if err != nil {
		return nil, nil, err
	}
	return pc, live, nil
}

// replaceConnLocked moves s onto a fresh peer connection. Remote candidates
// already applied are queued again for the new connection, and local media
// is attached to it.
func (o *Orchestrator) replaceConnLocked(s *session) error {
	pc, live, err := o.connect(s.remoteID)
	if err != nil {
		return newError("replace peer connection", s.remoteID, err)
	}
	s.live.Store(false)
	if err := s.pc.Close(); err != nil {
		o.log.Debug("close replaced peer connection", "remote", s.remoteID, "err", err)
	}

	s.pc, s.live = pc, live
	s.offerUnsent = false
	s.remoteDescSet = false
	s.hasRemoteStream = false
	s.tracksAttached = false
	s.pendingCandidates = append(s.appliedCandidates, s.pendingCandidates...)
	s.appliedCandidates = nil
	return s.attach(o.media)
}

func (o *Orchestrator) bufferLocked(from string, sig earlySignal) {
	q, known := o.early[from]
	if !known && len(o.early) >= maxEarlySenders {
		o.log.Warn("early signal dropped, too many unknown senders", "remote", from)
		return
	}
	if len(q) >= maxEarlySignals {
		o.log.Warn("early signal dropped, buffer full", "remote", from)
		return
	}
	o.early[from] = append(q, sig)
	o.log.Debug("signal buffered until peer is known", "remote", from, "queued", len(q)+1)
}

func (o *Orchestrator) setState(s *session, to State) error {
	if err := s.transition(to); err != nil {
		return err
	}
	if cb := o.opts.OnStateChange; cb != nil {
		id := s.remoteID
		o.notify(func() { cb(id, to) })
	}
	return nil
}

func (o *Orchestrator) notifyClosed(remoteID string) {
	if cb := o.opts.OnStateChange; cb != nil {
		o.notify(func() { cb(remoteID, Closed) })
	}
	if cb := o.opts.OnSessionClosed; cb != nil {
		o.notify(func() { cb(remoteID) })
	}
}

func (o *Orchestrator) polite(remoteID string) bool {
	return o.opts.LocalID < remoteID
}

func (o *Orchestrator) sortedIDsLocked() []string {
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// hooks wires PeerConn callbacks back into the orchestrator. They never take
// the lock on the calling goroutine, so a PeerConn may fire them from inside
// any method. A retired connection's hooks do nothing.
func (o *Orchestrator) hooks(remoteID string, live *atomic.Bool) Hooks {
	return Hooks{
		OnICECandidate: func(c ICECandidate) {
			if !live.Load() {
				return
			}
			payload, err := encode(c)
			if err != nil {
				o.report(newError("encode candidate", remoteID, err))
				return
			}
			if err := o.opts.Signaler.SendIceCandidate(remoteID, payload); err != nil {
				o.report(newError("send candidate", remoteID, err))
			}
		},
		OnNegotiationNeeded: func() {
			if !live.Load() {
				return
			}
			go func() {
				if err := o.Negotiate(remoteID); err != nil {
					o.report(err)
				}
			}()
		},
		OnTrack: func(t RemoteTrack) {
			if !live.Load() {
				return
			}
			go o.remoteTrack(remoteID, t)
		},
		OnConnectionState: func(st string) {
			o.log.Debug("peer connection state", "remote", remoteID, "state", st)
		},
	}
}

func (o *Orchestrator) remoteTrack(remoteID string, t RemoteTrack) {
	_ = o.do(func() error {
		s, ok := o.sessions[remoteID]
		if !ok || s.state == Closed {
			return nil
		}
		s.hasRemoteStream = true
		if cb := o.opts.OnRemoteTrack; cb != nil {
			o.notify(func() { cb(remoteID, t) })
		}
		return nil
	})
}

func (o *Orchestrator) report(err error) {
	o.log.Warn("peer negotiation failed", "err", err)
	if cb := o.opts.OnError; cb != nil {
		cb(err)
	}
}
