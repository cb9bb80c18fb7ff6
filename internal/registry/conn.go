package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/pulse/pkg/models"
)

const (
	sendBufferSize = 64
	writeWait      = 10 * time.Second
	pongWait       = 45 * time.Second
	pingInterval   = 15 * time.Second
	maxPayloadSize = 1 << 20
)

var (
	errConnClosed = errors.New("connection closed")
	errBufferFull = errors.New("send buffer full")
)

// Transport is the write side of a live connection. *websocket.Conn
// satisfies it; tests substitute an in-memory implementation.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one live connection of an authenticated identity. Writes go
// through a buffered channel drained by a single writer goroutine, so
// hub fan-out never blocks on a slow client.
type Conn struct {
	ID       string
	Identity models.Identity

	logger    *slog.Logger
	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(identity models.Identity, transport Transport, logger *slog.Logger) *Conn {
	return &Conn{
		ID:        uuid.NewString(),
		Identity:  identity,
		logger:    logger,
		transport: transport,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}
}

// enqueue hands a payload to the writer goroutine without blocking.
// A closed connection or a full buffer is reported to the caller, which
// treats it as a per-connection delivery failure.
func (c *Conn) enqueue(data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errBufferFull
	}
}

// close shuts the connection down once. Safe to call from any goroutine.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.transport != nil {
			_ = c.transport.Close()
		}
	})
}

// writeLoop drains the send buffer onto the transport and keeps the
// connection alive with periodic pings. Returns when the connection is
// closed or the transport fails.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.transport.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "conn_id", c.ID, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", "conn_id", c.ID, "error", err)
				c.close()
				return
			}
		}
	}
}
