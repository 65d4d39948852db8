// Package gameserver runs the per-connection message loop: it decodes inbound
// frames, routes them to the connection registry, and writes the player's
// queued notices back to the transport.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/roomsync/internal/game/session"
	"github.com/cory-johannsen/roomsync/internal/observability"
	"github.com/cory-johannsen/roomsync/internal/protocol"
)

// ErrIDMismatch is logged when a frame names a player id other than the
// connection's own.
var ErrIDMismatch = errors.New("frame names another player")

// ErrServerOnly is logged when a client sends a message only the server may send.
var ErrServerOnly = errors.New("server-only message")

// Conn is one framed transport connection bound to a player id.
//
// ReadFrame returns io.EOF once the peer closes normally or the connection is
// closed locally.
type Conn interface {
	PlayerID() string
	Codec() protocol.Codec
	RemoteAddr() string
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Dispatcher serves player connections against a shared registry.
type Dispatcher struct {
	sessions  *session.Manager
	queueSize int
	logger    *zap.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Precondition: sessions and logger must be non-nil.
// Postcondition: queueSize <= 0 selects the entity default.
func NewDispatcher(sessions *session.Manager, queueSize int, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sessions:  sessions,
		queueSize: queueSize,
		logger:    logger,
	}
}

// HandleSession runs one connection until the peer leaves, the transport
// fails, or ctx is cancelled.
// Flow:
//  1. Create the player's outbound entity
//  2. Spawn goroutine to encode and write queued notices
//  3. Main loop: read frame, decode, route to the registry
//  4. Tear down exactly once: deregister, close entity and transport
//
// Postcondition: No registry state for the connection remains. Returns nil
// on a normal close or Leave.
func (d *Dispatcher) HandleSession(ctx context.Context, conn Conn) error {
	start := time.Now()
	s := &playerSession{
		id:       conn.PlayerID(),
		conn:     conn,
		entity:   session.NewEntity(conn.PlayerID(), d.queueSize),
		sessions: d.sessions,
		logger: d.logger.With(
			observability.PlayerID(conn.PlayerID()),
			observability.RemoteAddr(conn.RemoteAddr()),
		),
	}
	s.logger.Info("player connected", zap.String("codec", conn.Codec().Name()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.forward(ctx)
	}()

	err := s.readLoop()

	s.teardown()
	cancel()
	wg.Wait()

	s.logger.Info("player disconnected",
		zap.Bool("joined", s.joined),
		zap.Duration("duration", time.Since(start)),
		zap.NamedError("cause", err),
	)
	return err
}

// playerSession is the state of one connection's loops.
type playerSession struct {
	id       string
	conn     Conn
	entity   *session.Entity
	sessions *session.Manager
	logger   *zap.Logger

	// joined is only touched by the read loop and teardown, which run on the
	// same goroutine.
	joined       bool
	teardownOnce sync.Once
}

// readLoop processes frames in arrival order until the connection ends or
// the player leaves.
func (s *playerSession) readLoop() error {
	codec := s.conn.Codec()
	for {
		data, err := s.conn.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}

		msg, err := codec.Decode(data)
		if err != nil {
			s.logger.Warn("dropping undecodable frame",
				zap.Int("bytes", len(data)),
				zap.Error(err),
			)
			continue
		}

		if leave := s.route(msg); leave {
			return nil
		}
	}
}

// route applies one decoded message. It returns true when the player asked
// to leave.
func (s *playerSession) route(msg protocol.Message) bool {
	if sender := protocol.Sender(msg); sender != "" && sender != s.id {
		s.drop(msg, fmt.Errorf("%w: %q", ErrIDMismatch, sender))
		return false
	}

	var err error
	switch m := msg.(type) {
	case protocol.Join:
		err = s.join(m.X, m.Y, m.RoomID)
	case protocol.Move:
		err = s.sessions.UpdatePosition(s.id, m.X, m.Y, m.RoomID)
	case protocol.Leave:
		return true
	case protocol.Chat:
		err = s.sessions.RelayChat(s.id, m.RoomID, m.Message)
	case protocol.EntityUpdate:
		var relayed bool
		relayed, err = s.sessions.RelayEntityUpdate(s.id, m)
		if err == nil && !relayed {
			s.logger.Debug("ignoring entity update from non-host",
				observability.RoomID(m.RoomID),
				zap.String("entity_id", m.EntityID),
			)
		}
	case protocol.EntityDamage:
		err = s.sessions.RelayEntityDamage(s.id, m)
	case protocol.EntityDeath:
		err = s.sessions.RelayEntityDeath(s.id, m)
	case protocol.HostAssigned:
		err = fmt.Errorf("%w: %s", ErrServerOnly, m.Kind())
	default:
		err = fmt.Errorf("%w: %T", protocol.ErrUnknownMessage, msg)
	}
	if err != nil {
		s.drop(msg, err)
	}
	return false
}

// join registers the connection, or treats a repeated Join as a Move.
func (s *playerSession) join(x, y float64, roomID string) error {
	if s.joined {
		return s.sessions.UpdatePosition(s.id, x, y, roomID)
	}
	if err := s.sessions.AddConnection(s.id, x, y, roomID, s.entity); err != nil {
		return err
	}
	s.joined = true
	return nil
}

// drop logs a message that could not be applied. Nothing here is fatal to
// the connection.
func (s *playerSession) drop(msg protocol.Message, err error) {
	fields := []zap.Field{zap.String("kind", string(msg.Kind())), zap.Error(err)}
	switch {
	case errors.Is(err, session.ErrPlayerNotFound), errors.Is(err, session.ErrRoomMismatch):
		s.logger.Info("dropping stale message", fields...)
	case errors.Is(err, session.ErrAlreadyConnected):
		s.logger.Warn("rejecting join for id held by another connection", fields...)
	default:
		s.logger.Warn("dropping invalid message", fields...)
	}
}

// forward encodes queued notices and writes them until the entity is closed
// or ctx is done. A write failure or a closed entity closes the transport,
// which ends the read loop.
func (s *playerSession) forward(ctx context.Context) {
	defer func() { _ = s.conn.Close() }()

	codec := s.conn.Codec()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.entity.Events():
			if !ok {
				return
			}
			data, err := codec.Encode(msg)
			if err != nil {
				s.logger.Error("encoding notice", zap.String("kind", string(msg.Kind())), zap.Error(err))
				continue
			}
			if err := s.conn.WriteFrame(data); err != nil {
				s.logger.Debug("writing notice failed", zap.Error(err))
				return
			}
		}
	}
}

// teardown deregisters the player and closes its entity and transport.
// It is safe to call more than once.
func (s *playerSession) teardown() {
	s.teardownOnce.Do(func() {
		if s.joined {
			if err := s.sessions.RemoveConnection(s.id); err != nil {
				s.logger.Warn("removing player on teardown", zap.Error(err))
			}
		}
		_ = s.entity.Close()
		_ = s.conn.Close()
	})
}
