package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/cwrk-planet/signal-service/internal/store"
)

func TestPrinterReportsChanges(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)

	base := store.State{ConnectionID: "me", Connected: true, MicEnabled: true}
	p.observe(base)
	if buf.Len() != 0 {
		t.Fatalf("first snapshot printed %q", buf.String())
	}

	joined := base
	joined.RoomID = "standup"
	joined.Username = "Ann"
	joined.Participants = []store.Participant{{ConnectionID: "b", DisplayName: "Bob", MicEnabled: true}}
	p.observe(joined)

	next := joined
	next.Participants = []store.Participant{
		{ConnectionID: "b", DisplayName: "Bob", MicEnabled: false, HasStream: true},
		{ConnectionID: "c", DisplayName: "Cy"},
	}
	next.Chat = []store.ChatLine{
		{Text: "Cy has joined the room!", System: true, At: time.Now()},
		{Text: "hi all", Sender: "Bob", At: time.Now()},
	}
	next.MicEnabled = false
	next.MediaReady = true
	p.observe(next)

	gone := next
	gone.Participants = []store.Participant{next.Participants[1]}
	gone.Connected = false
	p.observe(gone)

	out := buf.String()
	for _, want := range []string{
		"standup",
		"in room:",
		"Bob",
		"Cy has joined the room!",
		"Bob: hi all",
		"Bob turned mic off",
		"receiving media from Bob",
		"your mic is off",
		"local media ready",
		"Bob has left the room",
		"disconnected",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinterHandlesChatReset(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)

	st := store.State{RoomID: "r", Chat: []store.ChatLine{{Text: "one", Sender: "a"}, {Text: "two", Sender: "a"}}}
	p.observe(st)
	p.observe(store.State{})
	p.observe(store.State{RoomID: "r", Chat: []store.ChatLine{{Text: "fresh", Sender: "a"}}})

	if !strings.Contains(buf.String(), "fresh") {
		t.Fatalf("output = %q", buf.String())
	}
	if strings.Contains(buf.String(), "two") {
		t.Fatalf("old chat reprinted: %q", buf.String())
	}
}
