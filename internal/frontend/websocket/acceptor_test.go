package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/roomsync/internal/config"
	"github.com/cory-johannsen/roomsync/internal/game/session"
	"github.com/cory-johannsen/roomsync/internal/gameserver"
	"github.com/cory-johannsen/roomsync/internal/protocol"
	"github.com/cory-johannsen/roomsync/internal/testutil"
)

const readTimeout = 2 * time.Second

func testTransportConfig() config.TransportConfig {
	return config.TransportConfig{
		Host:           "127.0.0.1",
		Port:           0,
		Path:           "/game",
		MaxMessageSize: 4096,
		WriteTimeout:   time.Second,
		PongWait:       5 * time.Second,
		PingPeriod:     time.Second,
		SendQueueSize:  64,
		Codec:          "json",
	}
}

type testServer struct {
	acceptor *Acceptor
	sessions *session.Manager
	http     *httptest.Server
}

func startServer(t *testing.T, cfg config.TransportConfig) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	sessions := session.NewManager(session.Options{Logger: logger})
	dispatcher := gameserver.NewDispatcher(sessions, cfg.SendQueueSize, logger)
	acc := NewAcceptor(cfg, SessionHandlerFunc(func(ctx context.Context, conn *Conn) error {
		return dispatcher.HandleSession(ctx, conn)
	}), sessions, logger)

	srv := httptest.NewServer(acc.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = acc.Stop(ctx)
		srv.Close()
	})
	return &testServer{acceptor: acc, sessions: sessions, http: srv}
}

func (s *testServer) dial(t *testing.T, id, codec string) *testutil.GameClient {
	t.Helper()
	q := url.Values{}
	if id != "" {
		q.Set("id", id)
	}
	if codec != "" {
		q.Set("codec", codec)
	}
	c, err := protocol.Lookup(codecOrDefault(codec))
	require.NoError(t, err)
	return testutil.DialGame(t, testutil.WebsocketURL(s.http.URL, "/game", q), c)
}

func codecOrDefault(name string) string {
	if name == "" {
		return "json"
	}
	return name
}

func TestAcceptor_HostMigratesOverWebsocket(t *testing.T) {
	for _, codec := range []string{"json", "msgpack"} {
		t.Run(codec, func(t *testing.T) {
			s := startServer(t, testTransportConfig())
			a := s.dial(t, "a", codec)
			b := s.dial(t, "b", codec)

			a.Send(protocol.Join{X: 1, Y: 1, RoomID: "r1"})
			assert.Equal(t, protocol.HostAssigned{HostID: "a", RoomID: "r1"}, a.Next(readTimeout))
			b.Send(protocol.Join{X: 2, Y: 2, RoomID: "r1"})
			assert.Equal(t, protocol.Join{ID: "b", X: 2, Y: 2, RoomID: "r1"}, a.Next(readTimeout))

			a.Send(protocol.EntityUpdate{RoomID: "r1", EntityID: "42", X: 3, Y: 4})
			assert.Equal(t, protocol.EntityUpdate{ID: "a", RoomID: "r1", EntityID: "42", X: 3, Y: 4}, b.Next(readTimeout))

			b.Send(protocol.EntityUpdate{RoomID: "r1", EntityID: "42", X: 0, Y: 0})
			b.Send(protocol.Chat{Message: "gg", RoomID: "r1"})
			assert.Equal(t, protocol.Chat{ID: "b", Message: "gg", RoomID: "r1"}, a.Next(readTimeout))

			a.Close()
			assert.Equal(t, protocol.HostAssigned{HostID: "b", RoomID: "r1"}, b.Next(readTimeout))
			assert.Equal(t, protocol.Leave{ID: "a"}, b.Next(readTimeout))
			assert.Eventually(t, func() bool { return !s.sessions.IsConnected("a") }, readTimeout, 10*time.Millisecond)
		})
	}
}

func TestAcceptor_TextCodecSpeaksPipeFormat(t *testing.T) {
	s := startServer(t, testTransportConfig())
	a := s.dial(t, "a", "text")
	b := s.dial(t, "b", "text")

	a.SendRaw([]byte("join|1|2|r1"))
	assert.Equal(t, "enemyHost|a|r1", string(a.NextRaw(readTimeout)))
	b.SendRaw([]byte("join|3|4|r1"))
	assert.Equal(t, "join|b|3|4|r1", string(a.NextRaw(readTimeout)))

	b.SendRaw([]byte("chat|hello|there|r1"))
	assert.Equal(t, "chat|b|hello|there", string(a.NextRaw(readTimeout)))
}

func TestAcceptor_GeneratesIDWhenAbsent(t *testing.T) {
	s := startServer(t, testTransportConfig())
	c := s.dial(t, "", "")
	c.Send(protocol.Join{RoomID: "lobby"})

	msg := c.Next(readTimeout)
	host, ok := msg.(protocol.HostAssigned)
	require.True(t, ok, "got %#v", msg)
	assert.Len(t, host.HostID, 36)
	assert.True(t, s.sessions.IsConnected(host.HostID))
}

func TestAcceptor_RejectsDuplicateID(t *testing.T) {
	s := startServer(t, testTransportConfig())
	s.dial(t, "a", "")

	rawURL := testutil.WebsocketURL(s.http.URL, "/game", url.Values{"id": {"a"}})
	_, resp, err := testutil.DialGameResponse(rawURL, protocol.JSONCodec{})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAcceptor_RejectsBadRequests(t *testing.T) {
	s := startServer(t, testTransportConfig())
	cases := map[string]url.Values{
		"unknown codec": {"codec": {"xml"}},
		"pipe in id":    {"id": {"a|b"}},
		"invalid utf-8": {"id": {"a\xffb"}},
		"id too long":   {"id": {strings.Repeat("x", maxPlayerIDLength+1)}},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, resp, err := testutil.DialGameResponse(testutil.WebsocketURL(s.http.URL, "/game", q), protocol.JSONCodec{})
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestValidatePlayerID(t *testing.T) {
	for _, id := range []string{"a", "player-1", "joueur-é", strings.Repeat("x", maxPlayerIDLength)} {
		assert.NoError(t, validatePlayerID(id), "id %q", id)
	}
	for _, id := range []string{"\xff", "a\xc3", "a|b", "a\nb", strings.Repeat("x", maxPlayerIDLength+1)} {
		assert.Error(t, validatePlayerID(id), "id %q", id)
	}
}

func TestAcceptor_RejectsDisallowedOrigin(t *testing.T) {
	cfg := testTransportConfig()
	cfg.AllowedOrigins = []string{"https://game.example"}
	s := startServer(t, cfg)

	req, err := http.NewRequest(http.MethodGet, s.http.URL+"/game", nil)
	require.NoError(t, err)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Origin", "https://evil.example")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAcceptor_HealthAndStats(t *testing.T) {
	s := startServer(t, testTransportConfig())
	a := s.dial(t, "a", "")
	a.Send(protocol.Join{RoomID: "r1"})
	a.Next(readTimeout)

	resp, err := http.Get(s.http.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	resp, err = http.Get(s.http.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats struct {
		Players     int                 `json:"players"`
		Connections int                 `json:"connections"`
		Policy      string              `json:"policy"`
		Rooms       []session.RoomStats `json:"rooms"`
		Codecs      []string            `json:"codecs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Players)
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, "seniority", stats.Policy)
	assert.Equal(t, []session.RoomStats{{RoomID: "r1", HostID: "a", Players: []string{"a"}}}, stats.Rooms)
	assert.Equal(t, []string{"json", "msgpack", "text"}, stats.Codecs)
}

func TestAcceptor_IdleConnectionIsClosed(t *testing.T) {
	cfg := testTransportConfig()
	cfg.PongWait = 300 * time.Millisecond
	cfg.PingPeriod = 100 * time.Millisecond
	s := startServer(t, cfg)

	// The client never reads, so it never answers pings.
	s.dial(t, "sleepy", "")
	require.Eventually(t, func() bool { return s.acceptor.ActiveConnections() == 1 }, readTimeout, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return s.acceptor.ActiveConnections() == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestAcceptor_OversizedFrameEndsSession(t *testing.T) {
	cfg := testTransportConfig()
	cfg.MaxMessageSize = 64
	s := startServer(t, cfg)

	c := s.dial(t, "big", "")
	c.Send(protocol.Join{RoomID: "r1"})
	c.Next(readTimeout)
	c.Send(protocol.Chat{Message: string(make([]byte, 256)), RoomID: "r1"})

	c.ExpectClosed(readTimeout)
	assert.Eventually(t, func() bool { return !s.sessions.IsConnected("big") }, readTimeout, 10*time.Millisecond)
}

func TestAcceptor_StopClosesSessions(t *testing.T) {
	s := startServer(t, testTransportConfig())
	c := s.dial(t, "a", "")
	c.Send(protocol.Join{RoomID: "r1"})
	c.Next(readTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.acceptor.Stop(ctx))

	c.ExpectClosed(readTimeout)
	assert.Equal(t, 0, s.sessions.PlayerCount())
	assert.Equal(t, 0, s.acceptor.ActiveConnections())

	resp, err := http.Get(s.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
