package testutil

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/roomsync/internal/protocol"
)

// GameClient is a websocket test client that speaks one wire codec.
type GameClient struct {
	conn  *websocket.Conn
	codec protocol.Codec
	t     *testing.T
}

// WebsocketURL turns an httptest server URL into a ws:// endpoint URL with
// the given query parameters.
func WebsocketURL(serverURL, path string, query url.Values) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// DialGame connects to rawURL and returns a client using codec.
//
// Precondition: A server must be accepting upgrades at rawURL.
// Postcondition: Returns a connected client or fails the test.
func DialGame(t *testing.T, rawURL string, codec protocol.Codec) *GameClient {
	t.Helper()
	c, resp, err := DialGameResponse(rawURL, codec)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dialing %s: %v (status %d)", rawURL, err, status)
	}
	c.t = t
	t.Cleanup(func() { _ = c.conn.Close() })
	return c
}

// DialGameResponse dials without failing the test so callers can inspect a
// rejected handshake.
func DialGameResponse(rawURL string, codec protocol.Codec) (*GameClient, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(rawURL, nil)
	if err != nil {
		return nil, resp, err
	}
	return &GameClient{conn: conn, codec: codec}, resp, nil
}

// Send encodes and writes msg.
func (c *GameClient) Send(msg protocol.Message) {
	c.t.Helper()
	data, err := c.codec.Encode(msg)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", msg.Kind(), err)
	}
	c.SendRaw(data)
}

// SendRaw writes one frame verbatim.
func (c *GameClient) SendRaw(data []byte) {
	c.t.Helper()
	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(frameType, data); err != nil {
		c.t.Fatalf("writing frame: %v", err)
	}
}

// Next reads and decodes the next frame from the server.
//
// Postcondition: Returns the next message, or fails the test on timeout.
func (c *GameClient) Next(timeout time.Duration) protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	msg, err := c.codec.Decode(data)
	if err != nil {
		c.t.Fatalf("decoding frame %q: %v", data, err)
	}
	return msg
}

// NextRaw reads the next frame without decoding it.
func (c *GameClient) NextRaw(timeout time.Duration) []byte {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return data
}

// ReadUntil reads messages until one equals want, returning everything read.
func (c *GameClient) ReadUntil(want protocol.Message, timeout time.Duration) []protocol.Message {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	var seen []protocol.Message
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("timed out waiting for %#v; got %#v", want, seen)
		}
		msg := c.Next(remaining)
		seen = append(seen, msg)
		if msg == want {
			return seen
		}
	}
}

// ExpectSilence fails the test if any frame arrives within d. A websocket
// read that times out leaves the connection unreadable, so this must be the
// last read on c.
func (c *GameClient) ExpectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		c.t.Fatalf("expected no frame, got %q", data)
	}
}

// ExpectClosed fails the test unless the server closes the connection within d.
func (c *GameClient) ExpectClosed(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				c.t.Fatalf("connection still open after %s", d)
			}
			return
		}
	}
}

// Close sends a normal close frame and closes the connection.
func (c *GameClient) Close() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}
