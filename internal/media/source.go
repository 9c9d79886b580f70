// Package media provides a synthetic local audio source for headless peers.
package media

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	frameInterval  = 20 * time.Millisecond
	samplesPerTick = 960 // 20ms at 48kHz
	opusPT         = 111
)

// silentOpusFrame is a single Opus TOC byte and payload that decoders play
// back as 20ms of silence.
var silentOpusFrame = []byte{0xf8, 0xff, 0xfe}

var ErrStopped = errors.New("media source stopped")

// Source feeds one Opus track with silent frames until stopped.
type Source struct {
	track *webrtc.TrackLocalStaticRTP
	log   *slog.Logger

	audio atomic.Bool

	mu  sync.Mutex
	seq uint16
	ts  uint32

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSource creates the track and starts the packet loop.
func NewSource(streamID string, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}
	s := &Source{
		track: track,
		log:   log.With("component", "media", "stream", streamID),
		seq:   uint16(rand.UintN(1 << 16)),
		ts:    rand.Uint32(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.audio.Store(true)
	go s.loop()
	return s, nil
}

func (s *Source) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// SetAudioEnabled pauses or resumes packet output. Timestamps keep
// advancing while paused so the receiver sees a gap, not a jump.
func (s *Source) SetAudioEnabled(on bool) {
	s.audio.Store(on)
}

func (s *Source) AudioEnabled() bool {
	return s.audio.Load()
}

// Stop ends the packet loop. Safe to call more than once.
func (s *Source) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// WriteFrame sends one Opus payload with the next sequence number and
// timestamp.
func (s *Source) WriteFrame(payload []byte) error {
	select {
	case <-s.stop:
		return ErrStopped
	default:
	}
	return s.track.WriteRTP(s.next(payload))
}

func (s *Source) next(payload []byte) *rtp.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPT,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
		},
		Payload: payload,
	}
	s.seq++
	s.ts += samplesPerTick
	return pkt
}

func (s *Source) skip() {
	s.mu.Lock()
	s.ts += samplesPerTick
	s.mu.Unlock()
}

func (s *Source) loop() {
	defer close(s.done)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.audio.Load() {
				s.skip()
				continue
			}
			// Without a bound sender WriteRTP is a no-op.
			if err := s.WriteFrame(silentOpusFrame); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Warn("write frame failed", "err", err)
			}
		}
	}
}
