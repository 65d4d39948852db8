// Package websocket is the transport endpoint: it upgrades HTTP requests on
// the game path to websocket connections, assigns each a player id and codec,
// and hands it to a SessionHandler.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/roomsync/internal/config"
	"github.com/cory-johannsen/roomsync/internal/game/session"
	"github.com/cory-johannsen/roomsync/internal/observability"
	"github.com/cory-johannsen/roomsync/internal/protocol"
)

// maxPlayerIDLength bounds client-chosen ids.
const maxPlayerIDLength = 64

var errShuttingDown = errors.New("server shutting down")

// SessionHandler serves one accepted connection until it ends.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn *Conn) error
}

// SessionHandlerFunc adapts a function to SessionHandler.
type SessionHandlerFunc func(ctx context.Context, conn *Conn) error

// HandleSession calls f(ctx, conn).
func (f SessionHandlerFunc) HandleSession(ctx context.Context, conn *Conn) error {
	return f(ctx, conn)
}

// StatsSource reports registry state for the /stats endpoint.
type StatsSource interface {
	Stats() session.Stats
}

// Acceptor serves the game endpoint plus /healthz and /stats over HTTP.
type Acceptor struct {
	cfg      config.TransportConfig
	handler  SessionHandler
	stats    StatsSource
	logger   *zap.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
	active   map[string]struct{}
}

// NewAcceptor creates an Acceptor.
//
// Precondition: cfg must pass Validate; handler, stats and logger must be non-nil.
// Postcondition: Returns an Acceptor ready for ListenAndServe, or for mounting
// via Handler.
func NewAcceptor(cfg config.TransportConfig, handler SessionHandler, stats StatsSource, logger *zap.Logger) *Acceptor {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Acceptor{
		cfg:     cfg,
		handler: handler,
		stats:   stats,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		active:  make(map[string]struct{}),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     a.checkOrigin,
	}

	a.mux = http.NewServeMux()
	a.mux.HandleFunc(cfg.Path, a.serveGame)
	a.mux.HandleFunc("/healthz", a.serveHealth)
	a.mux.HandleFunc("/stats", a.serveStats)
	return a
}

// Handler returns the HTTP handler serving all endpoints.
func (a *Acceptor) Handler() http.Handler {
	return a.mux
}

// ListenAndServe listens on the configured address and serves until Stop is
// called. It blocks until the server has stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: Returns nil after Stop, or the listen error.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	server := &http.Server{
		Handler:           a.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return a.ctx },
	}

	a.mu.Lock()
	a.listener = listener
	a.server = server
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.String("default_codec", a.cfg.Codec),
		zap.Duration("startup", time.Since(start)),
	)

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Stop stops accepting connections, closes every live session and waits for
// their handlers to return, or for ctx to expire.
//
// Postcondition: All session goroutines have exited unless ctx expired first.
func (a *Acceptor) Stop(ctx context.Context) error {
	a.mu.Lock()
	server := a.server
	a.running = false
	a.cancel()
	a.mu.Unlock()

	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}

	a.logger.Info("websocket acceptor stopped")
	return err
}

// Addr returns the listening address, or "" before ListenAndServe.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning reports whether the acceptor is serving.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// ActiveConnections returns the number of accepted, still-open connections.
func (a *Acceptor) ActiveConnections() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

func (a *Acceptor) serveGame(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	addr := r.RemoteAddr

	query := r.URL.Query()
	id := query.Get("id")
	if id == "" {
		id = uuid.NewString()
	}
	if err := validatePlayerID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	codecName := query.Get("codec")
	if codecName == "" {
		codecName = a.cfg.Codec
	}
	codec, err := protocol.Lookup(codecName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch err := a.admit(id); {
	case errors.Is(err, errShuttingDown):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		a.logger.Warn("rejecting connection for id already connected",
			observability.PlayerID(id),
			observability.RemoteAddr(addr),
		)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer a.release(id)

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		a.logger.Debug("websocket upgrade failed",
			observability.RemoteAddr(addr),
			zap.Error(err),
		)
		return
	}

	conn := NewConn(ws, id, codec, a.cfg)
	defer conn.Close()

	if err := a.handler.HandleSession(a.ctx, conn); err != nil {
		a.logger.Debug("session ended",
			observability.PlayerID(id),
			observability.RemoteAddr(addr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}
	a.logger.Debug("session ended cleanly",
		observability.PlayerID(id),
		observability.RemoteAddr(addr),
		zap.Duration("duration", time.Since(start)),
	)
}

func (a *Acceptor) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if a.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// statsResponse is the /stats body.
type statsResponse struct {
	session.Stats
	Connections int      `json:"connections"`
	Codecs      []string `json:"codecs"`
}

func (a *Acceptor) serveStats(w http.ResponseWriter, _ *http.Request) {
	body := statsResponse{
		Stats:       a.stats.Stats(),
		Connections: a.ActiveConnections(),
		Codecs:      protocol.Names(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Debug("writing stats", zap.Error(err))
	}
}

// admit reserves id for one connection and counts it as a live session.
// Every successful admit must be paired with release.
func (a *Acceptor) admit(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx.Err() != nil {
		return errShuttingDown
	}
	if _, taken := a.active[id]; taken {
		return fmt.Errorf("player %q already connected", id)
	}
	a.active[id] = struct{}{}
	a.wg.Add(1)
	return nil
}

func (a *Acceptor) release(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, id)
	a.wg.Done()
}

func (a *Acceptor) checkOrigin(r *http.Request) bool {
	if len(a.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients do not send an Origin header.
		return true
	}
	for _, allowed := range a.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	a.logger.Warn("rejecting websocket origin", zap.String("origin", origin))
	return false
}

// validatePlayerID rejects ids that cannot be carried by every codec.
func validatePlayerID(id string) error {
	if len(id) > maxPlayerIDLength {
		return fmt.Errorf("player id longer than %d bytes", maxPlayerIDLength)
	}
	if !utf8.ValidString(id) {
		return errors.New("player id must be valid UTF-8")
	}
	if strings.ContainsAny(id, "|\r\n") {
		return errors.New("player id must not contain '|' or line breaks")
	}
	return nil
}
