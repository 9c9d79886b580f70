package ws

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/protocol"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const closeGoingAway = websocket.CloseGoingAway

var ErrSendQueueFull = errors.New("send queue full")

// Conn is one client connection. Send only enqueues; a single writer
// goroutine drains the queue so frames to one client stay in order.
type Conn struct {
	id      string
	ws      *websocket.Conn
	codec   protocol.Codec
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger

	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, wsc *websocket.Conn, codec protocol.Codec, opts Options, log *slog.Logger) *Conn {
	return &Conn{
		id:      id,
		ws:      wsc,
		codec:   codec,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RateBurst),
		log:     log.With("conn", id),
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Send encodes msg and queues it. A full queue means the client is not
// keeping up and the connection is closed.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := c.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	select {
	case <-c.done:
		return fmt.Errorf("%w: %s", domain.ErrConnNotFound, c.id)
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %s", domain.ErrConnNotFound, c.id)
	default:
		c.log.Warn("ws send queue full, closing")
		c.CloseWithReason(websocket.ClosePolicyViolation, "too slow")
		return ErrSendQueueFull
	}
}

// CloseWithReason sends a close frame if possible and tears the socket down.
// Safe to call more than once.
func (c *Conn) CloseWithReason(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *Conn) Close() error {
	c.CloseWithReason(websocket.CloseNormalClosure, "")
	return nil
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(frameType, data); err != nil {
				c.log.Debug("ws write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.log.Debug("ws ping failed", "err", err)
				return
			}
		case <-c.done:
			return
		}
	}
}
