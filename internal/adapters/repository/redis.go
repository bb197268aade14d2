package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/zikir/internal/domain/model"
)

const (
	backendRedis = "redis"
	notFoundErr  = "NOT_FOUND"
)

// Keys share the {room} hash tag so one script only touches one cluster slot.
func counterKey(roomID, userID string) string { return "zikir:{" + roomID + "}:counter:" + userID }
func membersKey(roomID string) string         { return "zikir:{" + roomID + "}:members" }
func offlineKey(roomID, userID string) string { return "zikir:{" + roomID + "}:offline:" + userID }

// Counter hashes hold current, today, total, last_ms (epoch ms as a string)
// and last_day (yyyymmdd). Every script returns {current, today, total, last_ms}.
var (
	createScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'current', 0)
redis.call('HSETNX', KEYS[1], 'today', 0)
redis.call('HSETNX', KEYS[1], 'total', 0)
redis.call('HSETNX', KEYS[1], 'last_ms', '0')
redis.call('HSETNX', KEYS[1], 'last_day', 0)
redis.call('SADD', KEYS[2], ARGV[1])
return redis.call('HMGET', KEYS[1], 'current', 'today', 'total', 'last_ms')
`)

	incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('NOT_FOUND')
end
local day = tonumber(ARGV[2])
if tonumber(redis.call('HGET', KEYS[1], 'last_day')) == day then
  redis.call('HINCRBY', KEYS[1], 'today', 1)
else
  redis.call('HSET', KEYS[1], 'today', 1)
end
redis.call('HINCRBY', KEYS[1], 'current', 1)
redis.call('HINCRBY', KEYS[1], 'total', 1)
redis.call('HSET', KEYS[1], 'last_ms', ARGV[1], 'last_day', day)
return redis.call('HMGET', KEYS[1], 'current', 'today', 'total', 'last_ms')
`)

	// ARGV holds (offline id, epoch ms, yyyymmdd) triples.
	bulkScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('NOT_FOUND')
end
local applied = 0
local latest_ms = -1
local latest_raw = '0'
local latest_day = 0
for i = 1, #ARGV, 3 do
  if redis.call('SADD', KEYS[2], ARGV[i]) == 1 then
    applied = applied + 1
    local ms = tonumber(ARGV[i + 1])
    if ms > latest_ms then
      latest_ms = ms
      latest_raw = ARGV[i + 1]
      latest_day = tonumber(ARGV[i + 2])
    end
  end
end
if applied > 0 then
  local stored_day = tonumber(redis.call('HGET', KEYS[1], 'last_day'))
  if latest_day > stored_day then
    redis.call('HSET', KEYS[1], 'today', applied)
  elseif latest_day == stored_day then
    redis.call('HINCRBY', KEYS[1], 'today', applied)
  end
  redis.call('HINCRBY', KEYS[1], 'current', applied)
  redis.call('HINCRBY', KEYS[1], 'total', applied)
  if latest_ms > tonumber(redis.call('HGET', KEYS[1], 'last_ms')) then
    redis.call('HSET', KEYS[1], 'last_ms', latest_raw, 'last_day', latest_day)
  end
end
local v = redis.call('HMGET', KEYS[1], 'current', 'today', 'total', 'last_ms')
return {v[1], v[2], v[3], v[4], applied}
`)

	resetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('NOT_FOUND')
end
redis.call('HSET', KEYS[1], 'current', 0)
return redis.call('HMGET', KEYS[1], 'current', 'today', 'total', 'last_ms')
`)
)

// NewRedisClient parses a redis:// URL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps counters in Redis hashes mutated only by Lua scripts.
type RedisStore struct {
	client *redis.Client
	opts   options
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps a client.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, opts: o}
}

func (s *RedisStore) Create(ctx context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendRedis, opCreate, time.Now(), &err)

	v, err := createScript.Run(ctx, s.client, []string{counterKey(roomID, userID), membersKey(roomID)}, userID).Slice()
	if err != nil {
		return c, fmt.Errorf("create counter: %w", err)
	}
	return decodeCounter(roomID, userID, v)
}

func (s *RedisStore) Get(ctx context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendRedis, opGet, time.Now(), &err)

	v, err := s.client.HMGet(ctx, counterKey(roomID, userID), "current", "today", "total", "last_ms").Result()
	if err != nil {
		return c, fmt.Errorf("get counter: %w", err)
	}
	if v[0] == nil {
		return c, ErrNotFound
	}
	return decodeCounter(roomID, userID, v)
}

func (s *RedisStore) Increment(ctx context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendRedis, opIncr, time.Now(), &err)

	now := s.opts.clock.Now()
	v, err := incrementScript.Run(ctx, s.client, []string{counterKey(roomID, userID)},
		now.UnixMilli(), model.DayKey(now, s.opts.loc)).Slice()
	if err != nil {
		return c, scriptError("increment counter", err)
	}
	return decodeCounter(roomID, userID, v)
}

func (s *RedisStore) IncrementBulk(ctx context.Context, roomID, userID string, taps []model.Tap) (c model.LiveCounter, res model.BulkResult, err error) {
	defer observe(backendRedis, opBulk, time.Now(), &err)

	now := s.opts.clock.Now()
	args := make([]interface{}, 0, 3*len(taps))
	for _, t := range taps {
		at := tapTime(t.At, now)
		args = append(args, t.OfflineID, at.UnixMilli(), model.DayKey(at, s.opts.loc))
	}
	v, err := bulkScript.Run(ctx, s.client,
		[]string{counterKey(roomID, userID), offlineKey(roomID, userID)}, args...).Slice()
	if err != nil {
		return c, res, scriptError("increment bulk", err)
	}
	if len(v) != 5 {
		return c, res, fmt.Errorf("increment bulk: unexpected reply of %d values", len(v))
	}
	applied, err := toInt64(v[4])
	if err != nil {
		return c, res, fmt.Errorf("increment bulk: %w", err)
	}
	c, err = decodeCounter(roomID, userID, v[:4])
	if err != nil {
		return c, res, err
	}
	res.Applied = int(applied)
	res.Duplicates = len(taps) - res.Applied
	return c, res, nil
}

func (s *RedisStore) ResetCurrent(ctx context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendRedis, opReset, time.Now(), &err)

	v, err := resetScript.Run(ctx, s.client, []string{counterKey(roomID, userID)}).Slice()
	if err != nil {
		return c, scriptError("reset counter", err)
	}
	return decodeCounter(roomID, userID, v)
}

// ListRoom reads the member index and then every row in one pipeline.
// Rows are individually consistent; the set is not a point-in-time snapshot.
func (s *RedisStore) ListRoom(ctx context.Context, roomID string) (out []model.LiveCounter, err error) {
	defer observe(backendRedis, opListRoom, time.Now(), &err)

	users, err := s.client.SMembers(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list room: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.SliceCmd, len(users))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, u := range users {
			cmds[i] = p.HMGet(ctx, counterKey(roomID, u), "current", "today", "total", "last_ms")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list room: %w", err)
	}

	out = make([]model.LiveCounter, 0, len(users))
	for i, cmd := range cmds {
		v := cmd.Val()
		if len(v) == 0 || v[0] == nil {
			continue
		}
		c, err := decodeCounter(roomID, users[i], v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func scriptError(op string, err error) error {
	if strings.Contains(err.Error(), notFoundErr) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func decodeCounter(roomID, userID string, v []interface{}) (model.LiveCounter, error) {
	if len(v) < 4 {
		return model.LiveCounter{}, fmt.Errorf("decode counter: unexpected reply of %d values", len(v))
	}
	var nums [4]int64
	for i := range nums {
		n, err := toInt64(v[i])
		if err != nil {
			return model.LiveCounter{}, fmt.Errorf("decode counter field %d: %w", i, err)
		}
		nums[i] = n
	}
	c := model.LiveCounter{
		RoomID:       roomID,
		UserID:       userID,
		CurrentCount: nums[0],
		TodayCount:   nums[1],
		TotalCount:   nums[2],
	}
	if nums[3] > 0 {
		c.LastCountAt = time.UnixMilli(nums[3]).UTC()
	}
	return c, nil
}

var errNilValue = errors.New("nil value")

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case nil:
		return 0, errNilValue
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
