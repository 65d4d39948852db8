package websocket

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/roomsync/internal/config"
	"github.com/cory-johannsen/roomsync/internal/protocol"
)

// connPair upgrades one connection and returns the server-side Conn and the
// raw client socket.
func connPair(t *testing.T, codecName string, cfg config.TransportConfig) (*Conn, *websocket.Conn) {
	t.Helper()
	codec, err := protocol.Lookup(codecName)
	require.NoError(t, err)

	accepted := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- NewConn(ws, "p1", codec, cfg)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case c := <-accepted:
		t.Cleanup(func() { _ = c.Close() })
		return c, client
	case <-time.After(readTimeout):
		t.Fatal("connection was not accepted")
		return nil, nil
	}
}

func TestConn_FrameTypeFollowsCodec(t *testing.T) {
	tests := []struct {
		codec string
		want  int
	}{
		{"json", websocket.TextMessage},
		{"text", websocket.TextMessage},
		{"msgpack", websocket.BinaryMessage},
	}
	for _, tc := range tests {
		t.Run(tc.codec, func(t *testing.T) {
			conn, client := connPair(t, tc.codec, testTransportConfig())
			require.NoError(t, conn.WriteFrame([]byte("payload")))

			_ = client.SetReadDeadline(time.Now().Add(readTimeout))
			frameType, data, err := client.ReadMessage()
			require.NoError(t, err)
			assert.Equal(t, tc.want, frameType)
			assert.Equal(t, []byte("payload"), data)
		})
	}
}

func TestConn_ReadFrame(t *testing.T) {
	conn, client := connPair(t, "json", testTransportConfig())
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"leave"}`)))

	data, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"leave"}`, string(data))
	assert.Equal(t, "p1", conn.PlayerID())
	assert.Equal(t, "json", conn.Codec().Name())
	assert.NotEmpty(t, conn.RemoteAddr())
}

func TestConn_PeerCloseIsEOF(t *testing.T) {
	conn, client := connPair(t, "json", testTransportConfig())
	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	_, err := conn.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConn_LocalCloseIsEOFAndIdempotent(t *testing.T) {
	conn, _ := connPair(t, "json", testTransportConfig())

	errs := make(chan error, 1)
	go func() {
		_, err := conn.ReadFrame()
		errs <- err
	}()

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(readTimeout):
		t.Fatal("ReadFrame did not return after Close")
	}
}

func TestConn_OversizedFrameFails(t *testing.T) {
	cfg := testTransportConfig()
	cfg.MaxMessageSize = 16
	conn, client := connPair(t, "json", cfg)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64))))

	_, err := conn.ReadFrame()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, err, websocket.ErrReadLimit)
}

func TestConn_SendsPings(t *testing.T) {
	cfg := testTransportConfig()
	cfg.PingPeriod = 20 * time.Millisecond
	_, client := connPair(t, "json", cfg)

	var pings atomic.Int32
	client.SetPingHandler(func(string) error {
		pings.Add(1)
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	assert.Eventually(t, func() bool { return pings.Load() >= 2 }, readTimeout, 10*time.Millisecond)
}
