package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/msgsync/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBufSize    = 256
)

var ErrSendBufferFull = errors.New("ws: send buffer full")

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one live connection to the messaging server.
// Lifecycle: newClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
// A Client is never reused: the manager dials a new one after every drop.
type Client struct {
	conn      *websocket.Conn
	send      chan OutgoingMessage
	sessionID string

	dispatch func(ctx context.Context, env Envelope)
	onClose  func(c *Client)

	// done is used as a non-blocking guard in enqueue.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func newClient(conn *websocket.Conn, sessionID string, dispatch func(context.Context, Envelope), onClose func(*Client)) *Client {
	return &Client{
		conn:      conn,
		send:      make(chan OutgoingMessage, sendBufSize),
		sessionID: sessionID,
		dispatch:  dispatch,
		onClose:   onClose,
		done:      make(chan struct{}),
	}
}

// Start launches readPump and writePump goroutines with controlled lifecycle.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
// Must not be called from a Handler: handlers run on readPump.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// enqueue hands a frame to writePump without blocking.
// A full buffer means the link is stalled: the client is closed so the
// liveness loop dials a fresh one.
func (c *Client) enqueue(msg OutgoingMessage) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrNotConnected
	default:
		logger.Errorf("ws send buffer full, closing session=%s", c.sessionID)
		c.Close()
		return ErrSendBufferFull
	}
}

// readPump reads frames and dispatches them in arrival order.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline session=%s: %v", c.sessionID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("ws read error session=%s: %v", c.sessionID, err)
			}
			return
		}
		// Any frame proves the link is alive.
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("ws unmarshal error session=%s: %v", c.sessionID, err)
			continue
		}
		if env.Event == "" {
			continue
		}
		c.dispatch(ctx, env)
	}
}

// writePump writes frames and keepalive pings.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
				logger.Debugf("ws close message session=%s: %v", c.sessionID, err)
			}
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline session=%s: %v", c.sessionID, err)
				c.Close()
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error event=%s session=%s: %v", msg.Event, c.sessionID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				logger.Warnf("ws write error session=%s: %v", c.sessionID, writeErr)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
