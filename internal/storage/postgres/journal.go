package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/roomsync/internal/game/session"
)

// JournalEntry is one stored presence event.
type JournalEntry struct {
	ID         int64
	Kind       session.EventKind
	PlayerID   string
	RoomID     string
	FromRoomID string
	OccurredAt time.Time
	RecordedAt time.Time
}

// JournalRepository persists presence events to the presence_events table.
type JournalRepository struct {
	db *pgxpool.Pool
}

// NewJournalRepository creates a JournalRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewJournalRepository(db *pgxpool.Pool) *JournalRepository {
	return &JournalRepository{db: db}
}

// Append inserts events in one COPY.
//
// Postcondition: All events are stored, or none are and an error is returned.
func (r *JournalRepository) Append(ctx context.Context, events []session.Event) error {
	if len(events) == 0 {
		return nil
	}
	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"presence_events"},
		[]string{"kind", "player_id", "room_id", "from_room_id", "occurred_at"},
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			evt := events[i]
			return []any{string(evt.Kind), evt.PlayerID, evt.RoomID, evt.FromRoomID, evt.At}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copying presence events: %w", err)
	}
	return nil
}

// Recent returns up to limit of the most recently recorded events, newest first.
//
// Precondition: limit must be > 0.
func (r *JournalRepository) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, kind, player_id, room_id, from_room_id, occurred_at, recorded_at
		 FROM presence_events
		 ORDER BY id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying presence events: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e    JournalEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &kind, &e.PlayerID, &e.RoomID, &e.FromRoomID, &e.OccurredAt, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning presence event: %w", err)
		}
		e.Kind = session.EventKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presence events: %w", err)
	}
	return out, nil
}
