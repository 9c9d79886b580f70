// Package hubclient is the client stub of the signaling router over a
// WebSocket hub connection.
package hubclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwrk-planet/signal-service/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	outBuffer      = 256
	eventBuffer    = 256
)

var ErrClosed = errors.New("hub connection closed")

// ServerError is an error event returned for an invocation.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "server: " + e.Message }

// Handler receives server events one at a time, in arrival order.
type Handler func(protocol.Frame)

type Options struct {
	// Codec defaults to JSON.
	Codec            protocol.Codec
	Header           http.Header
	HandshakeTimeout time.Duration
	Handler          Handler
	Logger           *slog.Logger
}

type Client struct {
	conn  *websocket.Conn
	codec protocol.Codec
	id    string
	log   *slog.Logger

	handler Handler
	events  chan protocol.Frame
	out     chan []byte

	mu      sync.Mutex
	pending map[string]chan protocol.Frame
	seq     atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the hub and waits for the welcome event that carries
// this connection's id.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.Codec == nil {
		opts.Codec = protocol.JSON{}
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
		Subprotocols:     []string{opts.Codec.Subprotocol()},
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	codec, err := protocol.ForSubprotocol(conn.Subprotocol())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &Client{
		conn:    conn,
		codec:   codec,
		handler: opts.Handler,
		events:  make(chan protocol.Frame, eventBuffer),
		out:     make(chan []byte, outBuffer),
		pending: make(map[string]chan protocol.Frame),
		done:    make(chan struct{}),
	}

	if err := c.awaitWelcome(ctx, opts.HandshakeTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.log = opts.Logger.With("conn", c.id)

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	go c.dispatch()

	return c, nil
}

func (c *Client) awaitWelcome(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	f, err := c.codec.Decode(data)
	if err != nil {
		return err
	}
	if f.Type != protocol.TypeWelcome {
		return fmt.Errorf("expected welcome, got %q", f.Type)
	}
	var w protocol.WelcomePayload
	if err := f.Bind(&w); err != nil {
		return err
	}
	if w.ConnectionID == "" {
		return errors.New("welcome without connection id")
	}
	c.id = w.ConnectionID
	return nil
}

// ID is the connection id the server assigned.
func (c *Client) ID() string { return c.id }

func (c *Client) Codec() protocol.Codec { return c.codec }

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

// Join registers this connection in a room and returns the members that
// were already there.
func (c *Client) Join(ctx context.Context, req protocol.JoinRequest) (protocol.JoinedPayload, error) {
	f, err := c.invoke(ctx, protocol.TypeJoin, req)
	if err != nil {
		return protocol.JoinedPayload{}, err
	}
	var res protocol.JoinedPayload
	if err := f.Bind(&res); err != nil {
		return protocol.JoinedPayload{}, err
	}
	return res, nil
}

func (c *Client) Leave() error {
	return c.send(protocol.Message{Type: protocol.TypeLeave})
}

func (c *Client) SendOffer(target, sdp string) error {
	return c.relay(protocol.TypeRelayOffer, target, sdp)
}

func (c *Client) SendAnswer(target, sdp string) error {
	return c.relay(protocol.TypeRelayAnswer, target, sdp)
}

func (c *Client) SendIceCandidate(target, candidate string) error {
	return c.relay(protocol.TypeRelayIceCandidate, target, candidate)
}

func (c *Client) SendChat(roomID, text string) error {
	return c.send(protocol.Message{
		Type:    protocol.TypeRelayChat,
		Payload: protocol.ChatRequest{RoomID: roomID, Text: text},
	})
}

// SendGlobalChat addresses every client connected to the hub.
func (c *Client) SendGlobalChat(text string) error {
	return c.send(protocol.Message{
		Type:    protocol.TypeRelayGlobalChat,
		Payload: protocol.GlobalChatRequest{Text: text},
	})
}

func (c *Client) SendMediaStatus(roomID, kind string, enabled bool) error {
	return c.send(protocol.Message{
		Type:    protocol.TypeRelayMediaStatus,
		Payload: protocol.MediaStatusRequest{RoomID: roomID, Kind: kind, Enabled: enabled},
	})
}

func (c *Client) relay(typ, target, payload string) error {
	return c.send(protocol.Message{
		Type:    typ,
		Payload: protocol.RelayRequest{TargetConnectionID: target, Payload: payload},
	})
}

func (c *Client) invoke(ctx context.Context, typ string, payload any) (protocol.Frame, error) {
	id := strconv.FormatUint(c.seq.Add(1), 10)
	reply := make(chan protocol.Frame, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(protocol.Message{Type: typ, ID: id, Payload: payload}); err != nil {
		return protocol.Frame{}, err
	}

	select {
	case f := <-reply:
		if f.Type == protocol.TypeError {
			var e protocol.ErrorPayload
			_ = f.Bind(&e)
			return protocol.Frame{}, &ServerError{Message: e.Error}
		}
		return f, nil
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	case <-c.done:
		return protocol.Frame{}, ErrClosed
	}
}

func (c *Client) send(msg protocol.Message) error {
	data, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// readPump routes replies to their waiting invocation and everything else
// to the event queue.
func (c *Client) readPump() {
	defer c.shutdown()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("hub read failed", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		f, err := c.codec.Decode(data)
		if err != nil {
			c.log.Warn("hub frame dropped", "err", err)
			continue
		}

		if f.ID != "" {
			c.mu.Lock()
			reply, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				reply <- f
				continue
			}
		}

		select {
		case c.events <- f:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case data := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) dispatch() {
	for {
		select {
		case f := <-c.events:
			c.handle(f)
		case <-c.done:
			// deliver what was already read
			for {
				select {
				case f := <-c.events:
					c.handle(f)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) handle(f protocol.Frame) {
	if c.handler != nil {
		c.handler(f)
	}
}
