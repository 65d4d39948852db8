package websocket

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/roomsync/internal/config"
	"github.com/cory-johannsen/roomsync/internal/protocol"
)

// Conn is one upgraded websocket connection bound to a player id and codec.
// ReadFrame must be called from a single goroutine, and so must WriteFrame;
// Close may be called from any goroutine.
type Conn struct {
	ws         *websocket.Conn
	playerID   string
	codec      protocol.Codec
	remoteAddr string

	writeTimeout time.Duration
	pongWait     time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn configures ws for keep-alive and starts its ping loop.
//
// Precondition: ws must be a freshly upgraded connection; cfg must pass Validate.
// Postcondition: The connection is closed if no frame or pong arrives within
// cfg.PongWait.
func NewConn(ws *websocket.Conn, playerID string, codec protocol.Codec, cfg config.TransportConfig) *Conn {
	c := &Conn{
		ws:           ws,
		playerID:     playerID,
		codec:        codec,
		remoteAddr:   ws.RemoteAddr().String(),
		writeTimeout: cfg.WriteTimeout,
		pongWait:     cfg.PongWait,
		done:         make(chan struct{}),
	}

	ws.SetReadLimit(cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(c.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	go c.pingLoop(cfg.PingPeriod)
	return c
}

// PlayerID returns the id the connection was accepted under.
func (c *Conn) PlayerID() string { return c.playerID }

// Codec returns the wire codec negotiated for the connection.
func (c *Conn) Codec() protocol.Codec { return c.codec }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// ReadFrame returns the next data frame payload. A normal close by either
// side is reported as io.EOF.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err == nil {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
		return data, nil
	}
	if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil, io.EOF
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return nil, fmt.Errorf("frame exceeds read limit: %w", err)
	}
	return nil, err
}

// WriteFrame writes data as one frame, binary or text per the codec.
func (c *Conn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(frameType, data)
}

// Close sends a close frame and closes the socket. It is safe to call more
// than once and from any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeTimeout))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// pingLoop sends keep-alive pings until the connection is closed.
func (c *Conn) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
