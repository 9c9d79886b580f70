package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/cwrk-planet/signal-service/internal/store"
)

// printer turns successive store snapshots into terminal lines.
type printer struct {
	w io.Writer

	mu   sync.Mutex
	prev store.State
	seen bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) observe(next store.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.seen {
		p.seen = true
		p.prev = next
		return
	}
	p.diff(p.prev, next)
	p.prev = next
}

func (p *printer) diff(prev, next store.State) {
	if prev.RoomID == "" && next.RoomID != "" {
		fmt.Fprintf(p.w, "%s %s as %s\n",
			SuccessStyle.Render("joined"), TitleStyle.Render(next.RoomID), SenderStyle.Render(next.Username))
		for _, pt := range next.Participants {
			fmt.Fprintf(p.w, "  %s %s\n", MutedStyle.Render("in room:"), pt.DisplayName)
		}
	}

	if len(next.Chat) < len(prev.Chat) {
		prev.Chat = nil
	}
	for _, l := range next.Chat[len(prev.Chat):] {
		p.chatLine(l)
	}

	for _, old := range prev.Participants {
		cur, ok := next.Participant(old.ConnectionID)
		if !ok {
			if next.RoomID != "" {
				fmt.Fprintf(p.w, "%s\n", MutedStyle.Render(old.DisplayName+" has left the room"))
			}
			continue
		}
		if cur.MicEnabled != old.MicEnabled {
			fmt.Fprintf(p.w, "%s\n", MutedStyle.Render(cur.DisplayName+" turned mic "+onOff(cur.MicEnabled)))
		}
		if cur.VideoEnabled != old.VideoEnabled {
			fmt.Fprintf(p.w, "%s\n", MutedStyle.Render(cur.DisplayName+" turned video "+onOff(cur.VideoEnabled)))
		}
		if cur.HasStream && !old.HasStream {
			fmt.Fprintf(p.w, "%s\n", MutedStyle.Render("receiving media from "+cur.DisplayName))
		}
	}

	if prev.MicEnabled != next.MicEnabled {
		PrintInfo(p.w, "your mic is "+onOff(next.MicEnabled))
	}
	if prev.VideoEnabled != next.VideoEnabled {
		PrintInfo(p.w, "your video is "+onOff(next.VideoEnabled))
	}
	if !prev.MediaReady && next.MediaReady {
		PrintInfo(p.w, "local media ready")
	}
	if prev.Connected && !next.Connected {
		PrintWarning(p.w, "disconnected from signaling server")
	}
}

func (p *printer) chatLine(l store.ChatLine) {
	ts := l.At.Format("15:04:05")
	if l.System {
		fmt.Fprintf(p.w, "%s %s\n", MutedStyle.Render(ts), WarningStyle.Render(l.Text))
		return
	}
	fmt.Fprintf(p.w, "%s %s %s\n", MutedStyle.Render(ts), SenderStyle.Render(l.Sender+":"), l.Text)
}
