package broadcast

import (
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/gorilla/websocket"
)

// ClientOptions tunes a websocket client's keepalive and buffering.
type ClientOptions struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultClientOptions mirrors the defaults in config.
var DefaultClientOptions = ClientOptions{
	WriteWait:      10 * time.Second,
	PongWait:       60 * time.Second,
	MaxMessageSize: 4096,
	SendBuffer:     64,
}

func (o ClientOptions) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// Client is a Subscriber backed by a websocket connection. All writes go
// through WritePump, which is the connection's only writer.
type Client struct {
	conn *websocket.Conn
	opts ClientOptions
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultClientOptions.SendBuffer
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultClientOptions.PongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultClientOptions.WriteWait
	}
	return &Client{
		conn: conn,
		opts: opts,
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues msg for writing. It fails once the client is closed or when
// its buffer is full.
func (c *Client) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump delivers inbound messages to handle until the connection fails
// or the client is closed.
func (c *Client) ReadPump(handle func([]byte)) {
	defer c.Close()

	if c.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.opts.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warningf("ws: read error: %v", err)
			}
			return
		}
		handle(msg)
	}
}

// WritePump writes queued messages and keepalive pings until the client is
// closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Warningf("ws: write error: %v", err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
