package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cwrk-planet/signal-service/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Router is the server-side handler of client invocations.
type Router interface {
	Join(connID string, req protocol.JoinRequest) (protocol.JoinedPayload, error)
	Leave(connID string)
	Disconnect(connID string)
	RelayOffer(from string, req protocol.RelayRequest)
	RelayAnswer(from string, req protocol.RelayRequest)
	RelayIceCandidate(from string, req protocol.RelayRequest)
	RelayChat(from string, req protocol.ChatRequest) error
	RelayMediaStatus(from string, req protocol.MediaStatusRequest) error
	RelayGlobalChat(from string, req protocol.GlobalChatRequest) error
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	router   Router
	opts     Options
	log      *slog.Logger
}

func NewServer(hub *Hub, router Router, opts Options) *Server {
	opts = opts.withDefaults()
	origins := newOriginPolicy(opts.AllowedOrigins)
	return &Server{
		hub:    hub,
		router: router,
		opts:   opts,
		log:    slog.Default().With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    protocol.Subprotocols,
			CheckOrigin:     origins.check,
		},
	}
}

// HandleWS serves GET /ws. The connection id is assigned here and announced
// with a welcome event before anything else is read.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsc, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}

	codec, err := protocol.ForSubprotocol(wsc.Subprotocol())
	if err != nil {
		s.log.Warn("ws codec", "err", err)
		_ = wsc.Close()
		return
	}

	c := newConn(uuid.NewString(), wsc, codec, s.opts, s.log)
	s.hub.Add(c)
	go c.writePump()

	c.log.Info("ws connected", "codec", codec.Subprotocol(), "remote", r.RemoteAddr)
	_ = c.Send(protocol.Message{
		Type:    protocol.TypeWelcome,
		Payload: protocol.WelcomePayload{ConnectionID: c.id},
	})

	s.readLoop(c)

	s.router.Disconnect(c.id)
	s.hub.Remove(c)
	_ = c.Close()
	c.log.Info("ws disconnected")
}

func (s *Server) readLoop(c *Conn) {
	c.ws.SetReadLimit(s.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("ws read failed", "err", err)
			}
			return
		}
		// any frame proves liveness
		_ = c.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))

		f, err := c.codec.Decode(data)
		if err != nil {
			s.replyError(c, "", "malformed frame")
			continue
		}
		if !c.limiter.Allow() {
			s.replyError(c, f.ID, "rate limited")
			continue
		}
		s.dispatch(c, f)
	}
}

func (s *Server) dispatch(c *Conn, f protocol.Frame) {
	switch f.Type {
	case protocol.TypeJoin:
		var req protocol.JoinRequest
		if err := f.Bind(&req); err != nil {
			s.replyError(c, f.ID, err.Error())
			return
		}
		res, err := s.router.Join(c.id, req)
		if err != nil {
			s.replyError(c, f.ID, err.Error())
			return
		}
		_ = c.Send(protocol.Message{Type: protocol.TypeJoined, ID: f.ID, Payload: res})

	case protocol.TypeLeave:
		s.router.Leave(c.id)

	case protocol.TypeRelayOffer, protocol.TypeRelayAnswer, protocol.TypeRelayIceCandidate:
		var req protocol.RelayRequest
		if err := f.Bind(&req); err != nil {
			s.replyError(c, f.ID, err.Error())
			return
		}
		switch f.Type {
		case protocol.TypeRelayOffer:
			s.router.RelayOffer(c.id, req)
		case protocol.TypeRelayAnswer:
			s.router.RelayAnswer(c.id, req)
		default:
			s.router.RelayIceCandidate(c.id, req)
		}

	case protocol.TypeRelayChat:
		var req protocol.ChatRequest
		if err := f.Bind(&req); err != nil {
			s.replyError(c, f.ID, err.Error())
			return
		}
		if err := s.router.RelayChat(c.id, req); err != nil {
			s.replyError(c, f.ID, err.Error())
		}

	case protocol.TypeRelayMediaStatus:
		var req protocol.MediaStatusRequest
		if err := f.Bind(&req); err != nil {
			s.replyError(c, f.ID, err.Error())
			return
		}
		if err := s.router.RelayMediaStatus(c.id, req); err != nil {
			s.replyError(c, f.ID, err.Error())
		}

	case protocol.TypeRelayGlobalChat:
		var req protocol.GlobalChatRequest
		if err := f.Bind(&req); err != nil {
			s.replyError(c, f.ID, err.Error())
			return
		}
		if err := s.router.RelayGlobalChat(c.id, req); err != nil {
			s.replyError(c, f.ID, err.Error())
		}

	default:
		s.replyError(c, f.ID, "unknown message type: "+f.Type)
	}
}

func (s *Server) replyError(c *Conn, id, msg string) {
	_ = c.Send(protocol.Message{Type: protocol.TypeError, ID: id, Payload: protocol.ErrorPayload{Error: msg}})
}
