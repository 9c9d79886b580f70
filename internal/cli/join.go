package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/signal-service/internal/media"
	"github.com/cwrk-planet/signal-service/internal/meeting"
	"github.com/cwrk-planet/signal-service/internal/peer"
	"github.com/cwrk-planet/signal-service/internal/store"
	"github.com/cwrk-planet/signal-service/pkg/logger"

	"github.com/spf13/cobra"
)

var errDisconnected = errors.New("signaling connection lost")

type joinOptions struct {
	Room       string
	Name       string
	Mic        bool
	Video      bool
	NoMedia    bool
	MediaDelay time.Duration
}

func newJoinCmd(opts *Options) *cobra.Command {
	var jo joinOptions

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room and chat from stdin",
		Long: `Join a room, negotiate a peer connection with every member and relay
stdin lines as chat. Commands: /mic, /video, /who, /leave.

Examples:
  peer join --room standup --name ann
  peer join --room standup --name bob --codec msgpack --stun none`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Load(*opts)
			if err != nil {
				return err
			}
			return runJoin(cmd.Context(), cfg, jo, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&jo.Room, "room", "", "room id")
	f.StringVar(&jo.Name, "name", "", "display name")
	f.BoolVar(&jo.Mic, "mic", true, "announce the microphone as enabled")
	f.BoolVar(&jo.Video, "video", false, "announce the camera as enabled")
	f.BoolVar(&jo.NoMedia, "no-media", false, "join without local media")
	f.DurationVar(&jo.MediaDelay, "media-delay", time.Second, "delay before local media becomes available")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func runJoin(ctx context.Context, cfg Config, jo joinOptions, in io.Reader, out io.Writer) error {
	log := logger.L()
	out = &lockedWriter{w: out}

	factory, err := peer.NewPionFactory(peer.PionConfig{ICEServers: cfg.ICEServers(), Logger: log})
	if err != nil {
		return err
	}
	m, err := meeting.Dial(ctx, cfg.ServerURL, meeting.Options{
		Factory:      factory,
		Codec:        cfg.Codec,
		Logger:       log,
		MicEnabled:   jo.Mic,
		VideoEnabled: jo.Video,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	pr := newPrinter(out)
	unsubscribe := m.Store().Subscribe(pr.observe)
	defer unsubscribe()

	if err := m.Join(ctx, jo.Room, jo.Name); err != nil {
		return err
	}
	PrintInfo(out, "type to chat; /mic /video /who /leave")

	mediaCtx, stopMedia := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer stopMedia()
	if !jo.NoMedia {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attachMedia(mediaCtx, m, jo.MediaDelay, out)
		}()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-mediaCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.Done():
			return errDisconnected
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(m, line, out); quit {
				return nil
			}
		}
	}
}

// attachMedia models a capture device that becomes ready after a delay.
func attachMedia(ctx context.Context, m *meeting.Meeting, delay time.Duration, out io.Writer) {
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	case <-m.Done():
		return
	}

	src, err := media.NewSource(m.ID(), logger.L())
	if err != nil {
		PrintError(out, "local media: "+err.Error())
		return
	}
	if err := m.SetLocalMedia(src); err != nil {
		src.Stop()
		PrintError(out, "local media: "+err.Error())
	}
}

// room is the part of a meeting the stdin loop drives.
type room interface {
	ToggleMic() (bool, error)
	ToggleVideo() (bool, error)
	SendChat(text string) error
	Leave() error
	Store() *store.Store
}

// handleLine executes one stdin line and reports whether to quit.
func handleLine(r room, line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	switch strings.ToLower(line) {
	case "/mic":
		if _, err := r.ToggleMic(); err != nil {
			reportToggle(out, err)
		}
	case "/video":
		if _, err := r.ToggleVideo(); err != nil {
			reportToggle(out, err)
		}
	case "/who":
		st := r.Store().Snapshot()
		parts := make([]participantRow, 0, len(st.Participants))
		for _, p := range st.Participants {
			parts = append(parts, participantRow{
				ConnectionID: p.ConnectionID,
				DisplayName:  p.DisplayName,
				MicEnabled:   p.MicEnabled,
				VideoEnabled: p.VideoEnabled,
			})
		}
		renderParticipants(out, st.RoomID, parts)
	case "/leave", "/quit":
		if err := r.Leave(); err != nil {
			PrintError(out, err.Error())
		}
		PrintSuccess(out, "left the room")
		return true
	default:
		if strings.HasPrefix(line, "/") {
			PrintWarning(out, fmt.Sprintf("unknown command %s", line))
			return false
		}
		if err := r.SendChat(line); err != nil {
			PrintError(out, err.Error())
		}
	}
	return false
}

func reportToggle(out io.Writer, err error) {
	if errors.Is(err, meeting.ErrNoLocalMedia) {
		PrintWarning(out, "local media is not ready yet")
		return
	}
	PrintError(out, err.Error())
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
