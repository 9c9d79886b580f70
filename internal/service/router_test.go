package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/protocol"
	"github.com/cwrk-planet/signal-service/internal/registry"
)

type fakeChannel struct {
	mu   sync.Mutex
	got  map[string][]protocol.Message
	dead map[string]bool
	// connected is what Broadcast reaches
	connected []string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{got: make(map[string][]protocol.Message), dead: make(map[string]bool)}
}

func (f *fakeChannel) Send(connID string, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead[connID] {
		return domain.ErrConnNotFound
	}
	f.got[connID] = append(f.got[connID], msg)
	return nil
}

func (f *fakeChannel) Broadcast(msg protocol.Message) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.connected {
		if f.dead[id] {
			continue
		}
		f.got[id] = append(f.got[id], msg)
		n++
	}
	return n
}

func (f *fakeChannel) connect(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, ids...)
}

func (f *fakeChannel) of(connID, typ string) []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Message
	for _, m := range f.got[connID] {
		if typ == "" || m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeChannel) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ms := range f.got {
		n += len(ms)
	}
	return n
}

func newTestRouter() (*Router, *registry.Registry, *fakeChannel) {
	reg := registry.New()
	ch := newFakeChannel()
	r := NewRouter(reg, ch, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return r, reg, ch
}

func mustJoin(t *testing.T, r *Router, conn, room, name string) protocol.JoinedPayload {
	t.Helper()
	res, err := r.Join(conn, protocol.JoinRequest{RoomID: room, DisplayName: name})
	if err != nil {
		t.Fatalf("join %s: %v", conn, err)
	}
	return res
}

func TestJoinBroadcastsToExistingMembersOnly(t *testing.T) {
	r, _, ch := newTestRouter()
	mustJoin(t, r, "a", "X", "Ann")
	mustJoin(t, r, "b", "X", "Bob")
	mustJoin(t, r, "d", "Y", "Dan")

	res := mustJoin(t, r, "e", "X", "Eve")

	if len(res.Participants) != 2 {
		t.Fatalf("roster = %+v", res.Participants)
	}
	for _, p := range res.Participants {
		if p.ConnectionID == "e" {
			t.Fatal("roster contains the joiner")
		}
	}
	for _, id := range []string{"a", "b"} {
		joins := ch.of(id, protocol.TypeRosterJoin)
		last := joins[len(joins)-1].Payload.(protocol.ParticipantItem)
		if last.ConnectionID != "e" || last.DisplayName != "Eve" {
			t.Fatalf("%s got %+v", id, last)
		}
	}
	if n := len(ch.of("d", protocol.TypeRosterJoin)); n != 0 {
		t.Fatalf("other room got %d roster_join", n)
	}
	if n := len(ch.of("e", "")); n != 0 {
		t.Fatalf("joiner got %d messages", n)
	}
}

func TestJoinValidation(t *testing.T) {
	r, reg, _ := newTestRouter()
	if _, err := r.Join("a", protocol.JoinRequest{RoomID: "  "}); !errors.Is(err, domain.ErrInvalidRoom) {
		t.Fatalf("err = %v", err)
	}
	if reg.Len() != 0 {
		t.Fatal("invalid join registered the caller")
	}

	res := mustJoin(t, r, "a", " X ", "")
	if res.RoomID != "X" {
		t.Fatalf("room = %q", res.RoomID)
	}
	if p, _ := reg.Get("a"); p.DisplayName != domain.DefaultDisplayName {
		t.Fatalf("name = %q", p.DisplayName)
	}
}

func TestRejoinSameRoomIsIdempotent(t *testing.T) {
	r, reg, ch := newTestRouter()
	mustJoin(t, r, "a", "X", "Ann")
	mustJoin(t, r, "b", "X", "Bob")

	res := mustJoin(t, r, "b", "X", "Bob")

	if len(res.Participants) != 1 || res.Participants[0].ConnectionID != "a" {
		t.Fatalf("roster = %+v", res.Participants)
	}
	if n := len(ch.of("a", protocol.TypeRosterJoin)); n != 1 {
		t.Fatalf("a got %d roster_join, want 1", n)
	}
	if got := len(reg.ListByRoom("X")); got != 2 {
		t.Fatalf("room size = %d", got)
	}
}

func TestJoinAnotherRoomLeavesFirst(t *testing.T) {
	r, reg, ch := newTestRouter()
	mustJoin(t, r, "a", "X", "Ann")
	mustJoin(t, r, "b", "X", "Bob")
	mustJoin(t, r, "c", "Y", "Cat")

	mustJoin(t, r, "b", "Y", "Bob")

	leaves := ch.of("a", protocol.TypeRosterLeave)
	if len(leaves) != 1 || leaves[0].Payload.(protocol.RosterLeavePayload).ConnectionID != "b" {
		t.Fatalf("a leaves = %+v", leaves)
	}
	if n := len(ch.of("c", protocol.TypeRosterJoin)); n != 1 {
		t.Fatalf("c roster_join = %d", n)
	}
	if p, _ := reg.Get("b"); p.RoomID != "Y" {
		t.Fatalf("b room = %q", p.RoomID)
	}
}

func TestLeaveThenDisconnectBroadcastsOnce(t *testing.T) {
	r, _, ch := newTestRouter()
	mustJoin(t, r, "a", "X", "Ann")
	mustJoin(t, r, "b", "X", "Bob")

	r.Leave("b")
	r.Disconnect("b")
	r.Leave("never-joined")

	if n := len(ch.of("a", protocol.TypeRosterLeave)); n != 1 {
		t.Fatalf("roster_leave count = %d, want 1", n)
	}
}

func TestConcurrentLeaveAndDisconnect(t *testing.T) {
	r, _, ch := newTestRouter()
	mustJoin(t, r, "a", "X", "Ann")
	mustJoin(t, r, "b", "X", "Bob")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.Leave("b") }()
	go func() { defer wg.Done(); r.Disconnect("b") }()
	wg.Wait()

	if n := len(ch.of("a", protocol.TypeRosterLeave)); n != 1 {
		t.Fatalf("roster_leave count = %d, want 1", n)
	}
}

func TestRelayToMissingTargetIsSilent(t *testing.T) {
	r, _, ch := newTestRouter()
	mustJoin(t, r, "a", "X", "Ann")
	mustJoin(t, r, "b", "X", "Bob")
	before := ch.total()

	r.RelayOffer("a", protocol.RelayRequest{TargetConnectionID: "ghost", Payload: "sdp"})

	ch.dead["b"] = true
	r.RelayAnswer("a", protocol.RelayRequest{TargetConnectionID: "b", Payload: "sdp"})

	if ch.total() != before {
		t.Fatalf("messages went out: %d -> %d", before, ch.total())
	}
}

func TestRelayTagsSenderAndKeepsOrder(t *testing.T) {
	r, _, ch := newTestRouter()
	mustJoin(t, r, "a", "X", "Ann")
	mustJoin(t, r, "b", "X", "Bob")

	r.RelayOffer("a", protocol.RelayRequest{TargetConnectionID: "b", Payload: "offer"})
	for i := 0; i < 5; i++ {
		r.RelayIceCandidate("a", protocol.RelayRequest{TargetConnectionID: "b", Payload: fmt.Sprint(i)})
	}

	got := ch.of("b", "")
	// roster_join is not sent to b; a was there first
	if len(got) != 6 || got[0].Type != protocol.TypeReceiveOffer {
		t.Fatalf("b got %+v", got)
	}
	for i, m := range got[1:] {
		sp := m.Payload.(protocol.SignalPayload)
		if sp.SenderConnectionID != "a" || sp.Payload != fmt.Sprint(i) {
			t.Fatalf("candidate %d = %+v", i, sp)
		}
	}
}

func TestMediaStatusLastValueWins(t *testing.T) {
	r, reg, ch := newTestRouter()
	mustJoin(t, r, "a", "X", "Ann")
	mustJoin(t, r, "b", "X", "Bob")

	for _, v := range []bool{true, false, true} {
		if err := r.RelayMediaStatus("a", protocol.MediaStatusRequest{RoomID: "X", Kind: "mic", Enabled: v}); err != nil {
			t.Fatal(err)
		}
	}

	if p, _ := reg.Get("a"); !p.MicEnabled {
		t.Fatal("registry mic flag = false")
	}
	got := ch.of("b", protocol.TypeReceiveMediaStatus)
	if len(got) != 3 {
		t.Fatalf("b got %d media messages", len(got))
	}
	last := got[2].Payload.(protocol.MediaStatusPayload)
	if !last.Enabled || last.Kind != "mic" || last.ConnectionID != "a" {
		t.Fatalf("last = %+v", last)
	}
	if n := len(ch.of("a", protocol.TypeReceiveMediaStatus)); n != 0 {
		t.Fatalf("sender got its own status %d times", n)
	}
}

func TestMediaStatusValidation(t *testing.T) {
	r, reg, ch := newTestRouter()
	mustJoin(t, r, "a", "X", "Ann")
	mustJoin(t, r, "b", "X", "Bob")

	err := r.RelayMediaStatus("a", protocol.MediaStatusRequest{RoomID: "X", Kind: "screen", Enabled: true})
	if !errors.Is(err, domain.ErrInvalidMediaKind) {
		t.Fatalf("err = %v", err)
	}
	// wrong room: silently dropped, flag untouched
	if err := r.RelayMediaStatus("a", protocol.MediaStatusRequest{RoomID: "Y", Kind: "video", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if p, _ := reg.Get("a"); p.VideoEnabled {
		t.Fatal("flag changed from another room")
	}
	if n := len(ch.of("b", protocol.TypeReceiveMediaStatus)); n != 0 {
		t.Fatalf("b got %d", n)
	}
}

func TestRelayChat(t *testing.T) {
	reg := registry.New()
	ch := newFakeChannel()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewRouter(reg, ch,
		WithChatPolicy(NewChatPolicy(10)),
		WithClock(func() time.Time { return at }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	mustJoin(t, r, "a", "X", "Ann")
	mustJoin(t, r, "b", "X", "Bob")
	mustJoin(t, r, "c", "Y", "Cat")

	if err := r.RelayChat("a", protocol.ChatRequest{RoomID: "X", Text: "  hi  "}); err != nil {
		t.Fatal(err)
	}
	got := ch.of("b", protocol.TypeReceiveChat)
	if len(got) != 1 {
		t.Fatalf("b got %d chats", len(got))
	}
	cp := got[0].Payload.(protocol.ChatPayload)
	if cp.Text != "hi" || cp.SenderName != "Ann" || cp.SenderConnectionID != "a" || cp.TSUnixMilli != at.UnixMilli() {
		t.Fatalf("chat = %+v", cp)
	}
	if n := len(ch.of("a", protocol.TypeReceiveChat)); n != 0 {
		t.Fatal("sender got its own chat")
	}

	if err := r.RelayChat("a", protocol.ChatRequest{RoomID: "X", Text: " "}); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Fatalf("empty: %v", err)
	}
	if err := r.RelayChat("a", protocol.ChatRequest{RoomID: "X", Text: strings.Repeat("x", 11)}); !errors.Is(err, domain.ErrMessageTooLong) {
		t.Fatalf("long: %v", err)
	}
	// c is not in X
	if err := r.RelayChat("c", protocol.ChatRequest{RoomID: "X", Text: "psst"}); err != nil {
		t.Fatal(err)
	}
	if n := len(ch.of("b", protocol.TypeReceiveChat)); n != 1 {
		t.Fatalf("b got %d chats after outsider", n)
	}
}

func TestTwoPartyScenario(t *testing.T) {
	r, reg, ch := newTestRouter()

	if res := mustJoin(t, r, "A", "X", "alice"); len(res.Participants) != 0 {
		t.Fatalf("A roster = %+v", res.Participants)
	}
	res := mustJoin(t, r, "B", "X", "bob")
	if len(res.Participants) != 1 || res.Participants[0].ConnectionID != "A" {
		t.Fatalf("B roster = %+v", res.Participants)
	}
	if n := len(ch.of("A", protocol.TypeRosterJoin)); n != 1 {
		t.Fatalf("A roster_join = %d", n)
	}

	r.RelayOffer("A", protocol.RelayRequest{TargetConnectionID: "B", Payload: "offer"})
	r.RelayAnswer("B", protocol.RelayRequest{TargetConnectionID: "A", Payload: "answer"})
	if n := len(ch.of("B", protocol.TypeReceiveOffer)); n != 1 {
		t.Fatalf("B offers = %d", n)
	}
	if n := len(ch.of("A", protocol.TypeReceiveAnswer)); n != 1 {
		t.Fatalf("A answers = %d", n)
	}

	r.Leave("A")
	r.Disconnect("A")
	if n := len(ch.of("B", protocol.TypeRosterLeave)); n != 1 {
		t.Fatalf("B roster_leave = %d", n)
	}
	if len(reg.ListByRoom("X")) != 1 {
		t.Fatal("A still listed")
	}
}

func TestConcurrentJoinsAndLeaves(t *testing.T) {
	r, reg, _ := newTestRouter()
	const n = 40

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			_, _ = r.Join(id, protocol.JoinRequest{RoomID: "R", DisplayName: id})
			if i%4 == 0 {
				r.Leave(id)
			}
		}(i)
	}
	wg.Wait()

	if got := len(reg.ListByRoom("R")); got != n-n/4 {
		t.Fatalf("room size = %d, want %d", got, n-n/4)
	}
}

func TestRelayGlobalChatReachesEveryConnection(t *testing.T) {
	r, _, ch := newTestRouter()
	ch.connect("a", "b", "lobby")
	mustJoin(t, r, "a", "X", "Ann")
	mustJoin(t, r, "b", "Y", "Bob")

	if err := r.RelayGlobalChat("lobby", protocol.GlobalChatRequest{Text: "  hello all "}); err != nil {
		t.Fatalf("RelayGlobalChat: %v", err)
	}

	for _, id := range []string{"a", "b", "lobby"} {
		got := ch.of(id, protocol.TypeReceiveGlobalChat)
		if len(got) != 1 {
			t.Fatalf("%s got %d global messages", id, len(got))
		}
		p := got[0].Payload.(protocol.GlobalChatPayload)
		if p.Text != "hello all" || p.SenderConnectionID != "lobby" {
			t.Fatalf("%s got %+v", id, p)
		}
	}
}

func TestRelayGlobalChatRejectsEmptyText(t *testing.T) {
	r, _, ch := newTestRouter()
	ch.connect("a")

	err := r.RelayGlobalChat("a", protocol.GlobalChatRequest{Text: "   "})
	if !errors.Is(err, domain.ErrEmptyMessage) {
		t.Fatalf("err = %v", err)
	}
	if ch.total() != 0 {
		t.Fatal("empty global chat was sent")
	}
}
