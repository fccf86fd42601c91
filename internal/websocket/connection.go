package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxMessageSize = 1 << 20

// Config holds per-connection timing and buffering knobs.
type Config struct {
	// PingInterval is how often the write loop pings the client.
	PingInterval time.Duration
	// ReadTimeout bounds the wait for any client frame; pongs extend it.
	ReadTimeout time.Duration
	// WriteTimeout bounds each outbound frame write.
	WriteTimeout time.Duration
	// BufferSize is the outbound frame queue length per connection.
	BufferSize int
}

// DefaultConfig returns the timing used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   64,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return cfg
}

// Connection wraps a websocket with a single writer goroutine. The hub and
// the read loop both produce outbound frames; funneling them through one
// buffered channel keeps gorilla's one-writer rule without locking.
type Connection struct {
	id   string
	conn *websocket.Conn
	cfg  Config

	writeCh   chan interface{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConnection wraps an upgraded websocket and starts its write loop.
func NewConnection(conn *websocket.Conn, cfg Config) *Connection {
	cfg = cfg.withDefaults()
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		cfg:     cfg,
		writeCh: make(chan interface{}, cfg.BufferSize),
		closed:  make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// WriteJSON queues a frame for the write loop. A full buffer fails fast
// rather than letting one slow receiver stall a broadcast.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- v:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	default:
		return ErrWriteBufferFull
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return c.conn.Close()
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case v := <-c.writeCh:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(v); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
