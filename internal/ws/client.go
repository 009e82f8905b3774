package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	sendQueue = 64
)

var (
	// ErrClosed is returned by Send once the client has been closed.
	ErrClosed = errors.New("ws: client closed")
	// ErrQueueFull is returned when a slow peer has fallen sendQueue frames behind.
	ErrQueueFull = errors.New("ws: send queue full")
)

// Client wraps a websocket connection as a Subscriber. Frames are queued and
// written by a dedicated goroutine, so Send never waits on the network.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewClient constructs a client wrapper and starts its writer.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		conn: conn,
		log:  logger,
		send: make(chan []byte, sendQueue),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send queues payload as a text frame.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("websocket send queue full, dropping subscriber")
		return ErrQueueFull
	}
}

// Close terminates the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

// Drain reads and discards frames until the peer goes away, then returns.
func (c *Client) Drain() {
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
