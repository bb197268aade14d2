package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresRegistry reads the rooms and room_members tables created by
// repository.Migrate.
type PostgresRegistry struct {
	pool *pgxpool.Pool
	opts options
}

var _ Registry = (*PostgresRegistry)(nil)

// NewPostgresRegistry wraps a pool owned by the caller.
func NewPostgresRegistry(pool *pgxpool.Pool, opts ...Option) *PostgresRegistry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresRegistry{pool: pool, opts: o}
}

func (r *PostgresRegistry) CreateRoom(ctx context.Context, roomID string, private bool, members ...string) (Room, error) {
	room := Room{ID: roomID, Private: private, CreatedAt: r.opts.clock.Now()}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rooms (id, private, created_at) VALUES ($1, $2, $3)`,
			roomID, private, room.CreatedAt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return ErrRoomExists
			}
			return fmt.Errorf("insert room: %w", err)
		}
		if len(members) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO room_members (room_id, user_id, joined_at)
			SELECT $1, u, $3 FROM unnest($2::text[]) AS u
			ON CONFLICT DO NOTHING`,
			roomID, members, room.CreatedAt); err != nil {
			return fmt.Errorf("insert members: %w", err)
		}
		return nil
	})
	if err != nil {
		return Room{}, err
	}
	return room, nil
}

func (r *PostgresRegistry) Room(ctx context.Context, roomID string) (Room, error) {
	room := Room{ID: roomID}
	err := r.pool.QueryRow(ctx,
		`SELECT private, created_at FROM rooms WHERE id = $1`, roomID).
		Scan(&room.Private, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

func (r *PostgresRegistry) Access(ctx context.Context, roomID, userID string) (Access, error) {
	var (
		a      Access
		active *bool
	)
	err := r.pool.QueryRow(ctx, `
		SELECT r.private, m.active
		FROM rooms r
		LEFT JOIN room_members m ON m.room_id = r.id AND m.user_id = $2
		WHERE r.id = $1`, roomID, userID).Scan(&a.Private, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Access{}, nil
	}
	if err != nil {
		return Access{}, fmt.Errorf("check access: %w", err)
	}
	a.RoomExists = true
	a.Member = active != nil && *active
	return a, nil
}

func (r *PostgresRegistry) Join(ctx context.Context, roomID, userID string) (bool, error) {
	var joined bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)`, roomID).Scan(&exists); err != nil {
			return fmt.Errorf("check room: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		// The WHERE on the upsert leaves an already active row untouched,
		// so RETURNING yields a row only when something changed.
		rows, err := tx.Query(ctx, `
			INSERT INTO room_members (room_id, user_id, active, joined_at)
			VALUES ($1, $2, TRUE, $3)
			ON CONFLICT (room_id, user_id) DO UPDATE SET active = TRUE, joined_at = EXCLUDED.joined_at
			WHERE NOT room_members.active
			RETURNING user_id`, roomID, userID, r.opts.clock.Now())
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		joined = rows.Next()
		rows.Close()
		return rows.Err()
	})
	return joined, err
}

func (r *PostgresRegistry) Leave(ctx context.Context, roomID, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE room_members SET active = FALSE WHERE room_id = $1 AND user_id = $2 AND active`,
		roomID, userID)
	if err != nil {
		return false, fmt.Errorf("leave room: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := r.Room(ctx, roomID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresRegistry) Members(ctx context.Context, roomID string) ([]string, error) {
	if _, err := r.Room(ctx, roomID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM room_members WHERE room_id = $1 AND active ORDER BY user_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return out, nil
}

// Close leaves the shared pool open.
func (r *PostgresRegistry) Close() error { return nil }
