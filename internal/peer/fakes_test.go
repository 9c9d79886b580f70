package peer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

type fakeConn struct {
	mu     sync.Mutex
	remote string
	hooks  Hooks

	calls       []string
	candidates  []ICECandidate
	tracksAdded int
	closed      int

	// fireNegotiation makes AddTracks raise negotiation-needed like a
	// real peer connection does.
	fireNegotiation bool
}

func (f *fakeConn) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeConn) CreateOffer() (SessionDescription, error) {
	f.record("create_offer")
	return SessionDescription{Type: SDPOffer, SDP: "offer-to-" + f.remote}, nil
}

func (f *fakeConn) CreateAnswer() (SessionDescription, error) {
	f.record("create_answer")
	return SessionDescription{Type: SDPAnswer, SDP: "answer-to-" + f.remote}, nil
}

func (f *fakeConn) SetLocalDescription(d SessionDescription) error {
	f.record("set_local:" + d.Type)
	return nil
}

func (f *fakeConn) SetRemoteDescription(d SessionDescription) error {
	f.record("set_remote:" + d.Type)
	return nil
}

func (f *fakeConn) AddICECandidate(c ICECandidate) error {
	f.mu.Lock()
	f.calls = append(f.calls, "add_candidate:"+c.Candidate)
	f.candidates = append(f.candidates, c)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) AddTracks(LocalMedia) error {
	f.mu.Lock()
	f.tracksAdded++
	fire := f.fireNegotiation
	f.mu.Unlock()
	if fire {
		f.hooks.OnNegotiationNeeded()
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) snapshot() (calls []string, tracks, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), f.tracksAdded, f.closed
}

func (f *fakeConn) has(call string) bool {
	calls, _, _ := f.snapshot()
	for _, c := range calls {
		if c == call {
			return true
		}
	}
	return false
}

type fakeFactory struct {
	mu              sync.Mutex
	conns           map[string][]*fakeConn
	fireNegotiation bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[string][]*fakeConn)}
}

func (ff *fakeFactory) New(remoteID string, hooks Hooks) (PeerConn, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	c := &fakeConn{remote: remoteID, hooks: hooks, fireNegotiation: ff.fireNegotiation}
	ff.conns[remoteID] = append(ff.conns[remoteID], c)
	return c, nil
}

// conn is the newest connection created for remoteID.
func (ff *fakeFactory) conn(remoteID string) *fakeConn {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	cs := ff.conns[remoteID]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func (ff *fakeFactory) created(remoteID string) []*fakeConn {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return append([]*fakeConn(nil), ff.conns[remoteID]...)
}

type sent struct {
	kind, target, payload string
}

type fakeSignaler struct {
	mu  sync.Mutex
	out []sent
	// failOffers makes SendOffer fail without recording
	failOffers error
}

func (s *fakeSignaler) add(kind, target, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == "offer" && s.failOffers != nil {
		return s.failOffers
	}
	s.out = append(s.out, sent{kind, target, payload})
	return nil
}

func (s *fakeSignaler) setFailOffers(err error) {
	s.mu.Lock()
	s.failOffers = err
	s.mu.Unlock()
}

func (s *fakeSignaler) SendOffer(t, p string) error        { return s.add("offer", t, p) }
func (s *fakeSignaler) SendAnswer(t, p string) error       { return s.add("answer", t, p) }
func (s *fakeSignaler) SendIceCandidate(t, p string) error { return s.add("candidate", t, p) }

func (s *fakeSignaler) count(kind, target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.out {
		if m.kind == kind && m.target == target {
			n++
		}
	}
	return n
}

func (s *fakeSignaler) last(kind string) (sent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.out) - 1; i >= 0; i-- {
		if s.out[i].kind == kind {
			return s.out[i], true
		}
	}
	return sent{}, false
}

type fakeMedia struct{}

func (fakeMedia) Tracks() []webrtc.TrackLocal { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func offerPayload(sdp string) string {
	return fmt.Sprintf(`{"type":"offer","sdp":%q}`, sdp)
}

func answerPayload(sdp string) string {
	return fmt.Sprintf(`{"type":"answer","sdp":%q}`, sdp)
}

func candidatePayload(c string) string {
	return fmt.Sprintf(`{"candidate":%q,"sdpMid":"0","sdpMLineIndex":0}`, c)
}
