package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/signal-service/internal/meeting"
	"github.com/cwrk-planet/signal-service/internal/peer"
	"github.com/cwrk-planet/signal-service/internal/protocol"
	"github.com/cwrk-planet/signal-service/internal/store"
)

type fakeRoom struct {
	mu    sync.Mutex
	chats []string
	mic   int
	video int
	left  bool
	noMic bool
	st    *store.Store
}

func (f *fakeRoom) ToggleMic() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noMic {
		return false, meeting.ErrNoLocalMedia
	}
	f.mic++
	return f.mic%2 == 1, nil
}

func (f *fakeRoom) ToggleVideo() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video++
	return true, nil
}

func (f *fakeRoom) SendChat(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, text)
	return nil
}

func (f *fakeRoom) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = true
	return nil
}

func (f *fakeRoom) Store() *store.Store { return f.st }

func TestHandleLine(t *testing.T) {
	st := store.New(store.State{
		RoomID:       "standup",
		Participants: []store.Participant{{ConnectionID: "b", DisplayName: "Bob", MicEnabled: true}},
	}, nil)
	defer st.Close()
	r := &fakeRoom{st: st}
	var out bytes.Buffer

	steps := []struct {
		line string
		quit bool
	}{
		{"   ", false},
		{"hello there", false},
		{"/MIC", false},
		{"/video", false},
		{"/who", false},
		{"/dance", false},
		{"/leave", true},
	}
	for _, s := range steps {
		if got := handleLine(r, s.line, &out); got != s.quit {
			t.Fatalf("handleLine(%q) quit = %v", s.line, got)
		}
	}

	if len(r.chats) != 1 || r.chats[0] != "hello there" {
		t.Fatalf("chats = %v", r.chats)
	}
	if r.mic != 1 || r.video != 1 || !r.left {
		t.Fatalf("room = %+v", r)
	}
	text := out.String()
	for _, want := range []string{"Bob", "unknown command /dance", "left the room"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestHandleLineWithoutMedia(t *testing.T) {
	st := store.New(store.State{}, nil)
	defer st.Close()
	r := &fakeRoom{st: st, noMic: true}
	var out bytes.Buffer

	handleLine(r, "/mic", &out)
	if !strings.Contains(out.String(), "not ready") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunJoinChatsAndLeaves(t *testing.T) {
	srv := startServer(t)

	factory, err := peer.NewPionFactory(peer.PionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bob, err := meeting.Dial(ctx, srv.wsURL, meeting.Options{Factory: factory, Codec: protocol.Msgpack{}})
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()
	if err := bob.Join(ctx, "standup", "Bob"); err != nil {
		t.Fatal(err)
	}

	cfg := Config{ServerURL: srv.wsURL, Codec: protocol.JSON{}}
	in := strings.NewReader("hello bob\n/leave\n")
	var out bytes.Buffer
	w := &lockedWriter{w: &out}

	err = runJoin(ctx, cfg, joinOptions{Room: "standup", Name: "Ann", NoMedia: true}, in, w)
	if err != nil {
		t.Fatalf("runJoin: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	var gotChat, gotLeave bool
	for time.Now().Before(deadline) && !(gotChat && gotLeave) {
		st := bob.Store().Snapshot()
		for _, l := range st.Chat {
			if l.Text == "hello bob" && l.Sender == "Ann" {
				gotChat = true
			}
		}
		gotLeave = len(st.Chat) > 0 && len(st.Participants) == 0
		time.Sleep(10 * time.Millisecond)
	}
	if !gotChat || !gotLeave {
		t.Fatalf("bob state = %+v", bob.Store().Snapshot())
	}

	w.mu.Lock()
	text := out.String()
	w.mu.Unlock()
	for _, want := range []string{"joined", "standup", "Bob", "left the room"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestRunJoinFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cfg := Config{ServerURL: "ws://127.0.0.1:1/ws", Codec: protocol.JSON{}}
	err := runJoin(ctx, cfg, joinOptions{Room: "r", NoMedia: true}, strings.NewReader(""), io.Discard)
	if err == nil {
		t.Fatal("join without server succeeded")
	}
	if errors.Is(err, errDisconnected) {
		t.Fatalf("err = %v, want dial failure", err)
	}
}
