package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/hexatalk/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one live session: a websocket connection bound to the user it
// authenticated as. The session's outbound queue is send; the fields
// closed, closeCode and closeText are guarded by the owning Hub's mutex.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	user *model.User
	addr string
	log  *zap.Logger

	send      chan []byte
	closed    bool
	closeCode int
	closeText string

	maxMessageSize int64
	limiter        *rate.Limiter
}

// NewClient binds conn to user. The connection is not live until the hub
// registers it.
func NewClient(conn *websocket.Conn, hub *Hub, user *model.User, addr string, cfg Config, log *zap.Logger) *Client {
	cfg = cfg.sanitized()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	every := rate.Limit(float64(cfg.RateLimit.Burst) / cfg.RateLimit.RefillInterval.Seconds())

	return &Client{
		conn:           conn,
		hub:            hub,
		user:           user,
		addr:           addr,
		log:            log.With(zap.String("user_id", user.ID), zap.String("remote", addr)),
		send:           make(chan []byte, cfg.SendBuffer),
		closeCode:      websocket.CloseNormalClosure,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        rate.NewLimiter(every, cfg.RateLimit.Burst),
	}
}

func (c *Client) UserID() string   { return c.user.ID }
func (c *Client) Username() string { return c.user.Username }

// enqueue queues payload without blocking. The caller holds the hub lock.
func (c *Client) enqueue(payload []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.log.Warn("send buffer full, dropping envelope")
		return false
	}
}

// closeLocked ends the session: the write pump sends a close frame with code
// and text once the queue drains. The caller holds the hub write lock.
func (c *Client) closeLocked(code int, text string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeText = text
	close(c.send)
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs a read failure at a level matching how surprising it
// is. Every read error ends the session.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("frame exceeded maximum size", zap.Int64("max_message_size", c.maxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || isExpectedCloseError(err):
		c.log.Debug("connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Warn("unexpected websocket close", zap.Error(err))
	default:
		c.log.Debug("websocket read error", zap.Error(err))
	}
}

// readPump reads frames until the connection fails and hands each to handle.
// Frames are handled one at a time, each to completion before the next is
// read. Over-limit frames are answered with an ERROR and dropped.
func (c *Client) readPump(ctx context.Context, handle func(context.Context, *Client, []byte), onClose func(*Client)) {
	defer func() {
		onClose(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("error closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.limiter.Allow() {
			c.log.Info("rate limit exceeded, discarding frame")
			c.hub.Send(c, newErrorEnvelope(errRateLimited.Message))
			continue
		}

		handle(ctx, c, raw)
	}
}

// writePump drains the send queue, one envelope per frame, and keeps the
// connection alive with pings. When the queue is closed it writes the close
// frame recorded by closeLocked.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("error closing connection in writePump", zap.Error(err))
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				c.writeClose()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Debug("error writing message", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("error writing ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) writeClose() {
	c.hub.mu.RLock()
	code, text := c.closeCode, c.closeText
	c.hub.mu.RUnlock()

	msg := websocket.FormatCloseMessage(code, text)
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("error writing close message", zap.Error(err))
	}
}

// isExpectedCloseError reports errors that only mean the peer or the other
// pump already closed the connection.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
