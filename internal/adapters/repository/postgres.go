package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/zikir/internal/domain/model"
)

const backendPostgres = "postgres"

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Connect opens a pool and checks it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PostgresStore keeps counters in the live_counters table.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open pool. The caller owns the pool unless
// Close is called on the store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresStore{pool: pool, opts: o}
}

const counterColumns = `room_id, user_id, current_count, today_count, total_count, last_count_at`

func scanCounter(row pgx.Row) (model.LiveCounter, error) {
	var (
		c    model.LiveCounter
		last *time.Time
	)
	if err := row.Scan(&c.RoomID, &c.UserID, &c.CurrentCount, &c.TodayCount, &c.TotalCount, &last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LiveCounter{}, ErrNotFound
		}
		return model.LiveCounter{}, err
	}
	if last != nil {
		c.LastCountAt = *last
	}
	return c, nil
}

func (s *PostgresStore) Create(ctx context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendPostgres, opCreate, time.Now(), &err)

	_, err = s.pool.Exec(ctx,
		`INSERT INTO live_counters (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roomID, userID)
	if err != nil {
		return c, fmt.Errorf("create counter: %w", err)
	}
	return s.get(ctx, s.pool, roomID, userID, "")
}

func (s *PostgresStore) Get(ctx context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendPostgres, opGet, time.Now(), &err)
	return s.get(ctx, s.pool, roomID, userID, "")
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) get(ctx context.Context, q querier, roomID, userID, suffix string) (model.LiveCounter, error) {
	c, err := scanCounter(q.QueryRow(ctx,
		`SELECT `+counterColumns+` FROM live_counters WHERE room_id = $1 AND user_id = $2`+suffix,
		roomID, userID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return c, fmt.Errorf("get counter: %w", err)
	}
	return c, err
}

// Increment is one conditional UPDATE, so concurrent taps serialise on the row lock.
func (s *PostgresStore) Increment(ctx context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendPostgres, opIncr, time.Now(), &err)

	now := s.opts.clock.Now()
	c, err = scanCounter(s.pool.QueryRow(ctx, `
		UPDATE live_counters SET
			current_count  = current_count + 1,
			total_count    = total_count + 1,
			today_count    = CASE WHEN last_count_day = $3 THEN today_count + 1 ELSE 1 END,
			last_count_at  = $4,
			last_count_day = $3
		WHERE room_id = $1 AND user_id = $2
		RETURNING `+counterColumns,
		roomID, userID, model.DayKey(now, s.opts.loc), now))
	if err != nil && !errors.Is(err, ErrNotFound) {
		err = fmt.Errorf("increment counter: %w", err)
	}
	return c, err
}

// IncrementBulk locks the row, records the offline ids that are new and
// applies exactly those, all in one transaction.
func (s *PostgresStore) IncrementBulk(ctx context.Context, roomID, userID string, taps []model.Tap) (c model.LiveCounter, res model.BulkResult, err error) {
	defer observe(backendPostgres, opBulk, time.Now(), &err)

	now := s.opts.clock.Now()
	ids := make([]string, len(taps))
	ats := make([]time.Time, len(taps))
	for i, t := range taps {
		ids[i] = t.OfflineID
		ats[i] = tapTime(t.At, now)
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var txErr error
		c, txErr = s.get(ctx, tx, roomID, userID, " FOR UPDATE")
		if txErr != nil {
			return txErr
		}

		rows, txErr := tx.Query(ctx, `
			INSERT INTO counter_offline_ids (room_id, user_id, offline_id, tapped_at)
			SELECT $1, $2, t.id, t.at FROM unnest($3::text[], $4::timestamptz[]) AS t(id, at)
			ON CONFLICT DO NOTHING
			RETURNING tapped_at`,
			roomID, userID, ids, ats)
		if txErr != nil {
			return fmt.Errorf("record offline ids: %w", txErr)
		}
		var latest time.Time
		for rows.Next() {
			var at time.Time
			if txErr = rows.Scan(&at); txErr != nil {
				rows.Close()
				return fmt.Errorf("scan offline id: %w", txErr)
			}
			res.Applied++
			if at.After(latest) {
				latest = at
			}
		}
		rows.Close()
		if txErr = rows.Err(); txErr != nil {
			return fmt.Errorf("record offline ids: %w", txErr)
		}
		res.Duplicates = len(taps) - res.Applied
		if res.Applied == 0 {
			return nil
		}

		c.ApplyBulk(int64(res.Applied), latest, s.opts.loc)
		_, txErr = tx.Exec(ctx, `
			UPDATE live_counters SET
				current_count = $3, today_count = $4, total_count = $5,
				last_count_at = $6, last_count_day = $7
			WHERE room_id = $1 AND user_id = $2`,
			roomID, userID, c.CurrentCount, c.TodayCount, c.TotalCount,
			c.LastCountAt, model.DayKey(c.LastCountAt, s.opts.loc))
		if txErr != nil {
			return fmt.Errorf("apply bulk: %w", txErr)
		}
		return nil
	})
	if err != nil {
		return model.LiveCounter{}, model.BulkResult{}, err
	}
	return c, res, nil
}

func (s *PostgresStore) ResetCurrent(ctx context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendPostgres, opReset, time.Now(), &err)

	c, err = scanCounter(s.pool.QueryRow(ctx,
		`UPDATE live_counters SET current_count = 0 WHERE room_id = $1 AND user_id = $2 RETURNING `+counterColumns,
		roomID, userID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		err = fmt.Errorf("reset counter: %w", err)
	}
	return c, err
}

func (s *PostgresStore) ListRoom(ctx context.Context, roomID string) (out []model.LiveCounter, err error) {
	defer observe(backendPostgres, opListRoom, time.Now(), &err)

	rows, err := s.pool.Query(ctx,
		`SELECT `+counterColumns+` FROM live_counters WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list room: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCounter(rows)
		if err != nil {
			return nil, fmt.Errorf("list room: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list room: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
