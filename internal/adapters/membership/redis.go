package membership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

func roomKey(roomID string) string   { return "zikir:{" + roomID + "}:room" }
func activeKey(roomID string) string { return "zikir:{" + roomID + "}:active" }

// RedisRegistry keeps a room hash and an active-member set per room.
type RedisRegistry struct {
	client *redis.Client
	opts   options
}

var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry wraps a client owned by the caller.
func NewRedisRegistry(client *redis.Client, opts ...Option) *RedisRegistry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisRegistry{client: client, opts: o}
}

// ARGV: created_ms, private, members...
var createRoomScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'created_ms', ARGV[1], 'private', ARGV[2])
for i = 3, #ARGV do
  redis.call('SADD', KEYS[2], ARGV[i])
end
return 1
`)

func (r *RedisRegistry) CreateRoom(ctx context.Context, roomID string, private bool, members ...string) (Room, error) {
	room := Room{ID: roomID, Private: private, CreatedAt: r.opts.clock.Now()}
	args := make([]interface{}, 0, 2+len(members))
	args = append(args, room.CreatedAt.UnixMilli(), strconv.FormatBool(private))
	for _, m := range members {
		args = append(args, m)
	}
	created, err := createRoomScript.Run(ctx, r.client, []string{roomKey(roomID), activeKey(roomID)}, args...).Int()
	if err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}
	if created == 0 {
		return Room{}, ErrRoomExists
	}
	return room, nil
}

func (r *RedisRegistry) Room(ctx context.Context, roomID string) (Room, error) {
	v, err := r.client.HMGet(ctx, roomKey(roomID), "private", "created_ms").Result()
	if err != nil {
		return Room{}, fmt.Errorf("get room: %w", err)
	}
	if v[1] == nil {
		return Room{}, ErrNotFound
	}
	room := Room{ID: roomID}
	if s, ok := v[0].(string); ok {
		room.Private, _ = strconv.ParseBool(s)
	}
	if s, ok := v[1].(string); ok {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Room{}, fmt.Errorf("get room: %w", err)
		}
		room.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return room, nil
}

func (r *RedisRegistry) Access(ctx context.Context, roomID, userID string) (Access, error) {
	room, err := r.Room(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return Access{}, nil
	}
	if err != nil {
		return Access{}, err
	}
	member, err := r.client.SIsMember(ctx, activeKey(roomID), userID).Result()
	if err != nil {
		return Access{}, fmt.Errorf("check access: %w", err)
	}
	return Access{RoomExists: true, Private: room.Private, Member: member}, nil
}

func (r *RedisRegistry) Join(ctx context.Context, roomID, userID string) (bool, error) {
	if _, err := r.Room(ctx, roomID); err != nil {
		return false, err
	}
	n, err := r.client.SAdd(ctx, activeKey(roomID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("join room: %w", err)
	}
	return n == 1, nil
}

func (r *RedisRegistry) Leave(ctx context.Context, roomID, userID string) (bool, error) {
	if _, err := r.Room(ctx, roomID); err != nil {
		return false, err
	}
	n, err := r.client.SRem(ctx, activeKey(roomID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("leave room: %w", err)
	}
	return n == 1, nil
}

func (r *RedisRegistry) Members(ctx context.Context, roomID string) ([]string, error) {
	if _, err := r.Room(ctx, roomID); err != nil {
		return nil, err
	}
	out, err := r.client.SMembers(ctx, activeKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// Close leaves the shared client open.
func (r *RedisRegistry) Close() error { return nil }
