package peer

import (
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

const DefaultSTUN = "stun:stun.l.google.com:19302"

type PionConfig struct {
	ICEServers []string
	Logger     *slog.Logger
}

// NewPionFactory builds peer connections from one shared API with the
// default codecs and interceptors. Without ICE servers only host
// candidates are gathered.
func NewPionFactory(cfg PionConfig) (Factory, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir))

	return func(remoteID string, hooks Hooks) (PeerConn, error) {
		var conf webrtc.Configuration
		if len(cfg.ICEServers) > 0 {
			conf.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
		}
		pc, err := api.NewPeerConnection(conf)
		if err != nil {
			return nil, err
		}
		c := &pionConn{pc: pc, log: cfg.Logger.With("remote", remoteID)}
		c.wire(hooks)
		return c, nil
	}, nil
}

type pionConn struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger
}

func (c *pionConn) wire(h Hooks) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || h.OnICECandidate == nil {
			return
		}
		init := cand.ToJSON()
		h.OnICECandidate(ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	c.pc.OnNegotiationNeeded(func() {
		if h.OnNegotiationNeeded != nil {
			h.OnNegotiationNeeded()
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			// ask for a keyframe so the first frames are decodable
			pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
			if err := c.pc.WriteRTCP(pli); err != nil {
				c.log.Debug("pli failed", "err", err)
			}
		}
		if h.OnTrack != nil {
			h.OnTrack(RemoteTrack{ID: track.ID(), StreamID: track.StreamID(), Kind: track.Kind().String()})
		}
		// Nothing renders here; keep reading so interceptors see the stream.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})

	c.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		if h.OnConnectionState != nil {
			h.OnConnectionState(st.String())
		}
	})
}

func (c *pionConn) CreateOffer() (SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, err
	}
	return SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (c *pionConn) CreateAnswer() (SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, err
	}
	return SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (c *pionConn) SetLocalDescription(d SessionDescription) error {
	return c.pc.SetLocalDescription(toPion(d))
}

func (c *pionConn) SetRemoteDescription(d SessionDescription) error {
	return c.pc.SetRemoteDescription(toPion(d))
}

func (c *pionConn) AddICECandidate(cand ICECandidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *pionConn) AddTracks(media LocalMedia) error {
	for _, t := range media.Tracks() {
		sender, err := c.pc.AddTrack(t)
		if err != nil {
			return err
		}
		// Read and discard RTCP so the interceptors keep running.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

func toPion(d SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}
