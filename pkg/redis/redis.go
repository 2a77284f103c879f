package redis

import (
	"context"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var NilError = goredis.Nil

type Options = goredis.UniversalOptions

// StreamMessage is a single entry read from a stream.
type StreamMessage struct {
	ID     string
	Values map[string]interface{}
}

// PendingEntry describes a delivered but unacknowledged stream entry.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	RetryCount int64
}

type RedisAdapter interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
	// DelIfEqual deletes key only while it still holds value.
	DelIfEqual(ctx context.Context, key string, value []byte) (bool, error)
	Exist(ctx context.Context, key string) (int64, error)

	// IncrWindow increments key and starts its expiry when the counter is new.
	// It returns the counter value and the time left on the key.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	XAdd(ctx context.Context, key string, values map[string]interface{}) (string, error)
	XReadGroup(ctx context.Context, group, consumer, key, id string, count int64) ([]StreamMessage, error)
	XAck(ctx context.Context, key, group string, ids ...string) error
	XGroupCreateMkStream(ctx context.Context, key, group, start string) error
	XLen(ctx context.Context, key string) (int64, error)
	XTrimApprox(ctx context.Context, key string, maxLen int64) error
	XPendingCount(ctx context.Context, key, group string) (int64, int64, error)
	XPendingEntries(ctx context.Context, key, group string, count int64) ([]PendingEntry, error)
	XClaim(ctx context.Context, key, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error)

	Client() goredis.UniversalClient
	Close() error
}

type redisAdapter struct {
	prefix   string
	conn     goredis.UniversalClient
	connName string
}

// NewRedisAdapter connects and pings before returning.
func NewRedisAdapter(ctx context.Context, connName string, keysPrefix string, opts *Options) (RedisAdapter, error) {
	if opts.ClientName == "" {
		opts.ClientName = connName
	}
	c := goredis.NewUniversalClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &redisAdapter{conn: c, prefix: keysPrefix, connName: connName}, nil
}

// NewFromClient wraps an existing client without pinging it.
func NewFromClient(c goredis.UniversalClient, keysPrefix string) RedisAdapter {
	return &redisAdapter{conn: c, prefix: keysPrefix, connName: "default"}
}

func (r *redisAdapter) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx).Err()
}

func (r *redisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.conn.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *redisAdapter) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	cmd := r.conn.SetNX(ctx, r.prefix+key, value, ttl)
	if err := cmd.Err(); err != nil {
		return false, err
	}
	return cmd.Val(), nil
}

func (r *redisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	st := r.conn.Get(ctx, r.prefix+key)
	if err := st.Err(); err != nil {
		return nil, err
	}
	return st.Bytes()
}

func (r *redisAdapter) Del(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.prefix + k
	}
	return r.conn.Del(ctx, prefixed...).Err()
}

var delIfEqual = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *redisAdapter) DelIfEqual(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := delIfEqual.Run(ctx, r.conn, []string{r.prefix + key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisAdapter) Exist(ctx context.Context, key string) (int64, error) {
	return r.conn.Exists(ctx, r.prefix+key).Result()
}

func (r *redisAdapter) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	key = r.prefix + key
	count, err := r.conn.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := r.conn.PExpire(ctx, key, window).Err(); err != nil {
			return count, window, err
		}
		return count, window, nil
	}
	ttl, err := r.conn.PTTL(ctx, key).Result()
	if err != nil {
		return count, 0, err
	}
	// a key without expiry means a previous PEXPIRE was lost
	if ttl < 0 {
		if err := r.conn.PExpire(ctx, key, window).Err(); err != nil {
			return count, window, err
		}
		ttl = window
	}
	return count, ttl, nil
}

func (r *redisAdapter) Client() goredis.UniversalClient {
	return r.conn
}

func (r *redisAdapter) Close() error {
	return r.conn.Close()
}

func (r *redisAdapter) XAdd(ctx context.Context, key string, values map[string]interface{}) (string, error) {
	return r.conn.XAdd(ctx, &goredis.XAddArgs{
		Stream: r.prefix + key,
		ID:     "*",
		Values: values,
	}).Result()
}

func (r *redisAdapter) XReadGroup(ctx context.Context, group, consumer, key, id string, count int64) ([]StreamMessage, error) {
	streams, err := r.conn.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.prefix + key, id},
		Count:    count,
		Block:    -1,
	}).Result()
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			messages = append(messages, StreamMessage{ID: msg.ID, Values: msg.Values})
		}
	}
	return messages, nil
}

func (r *redisAdapter) XAck(ctx context.Context, key, group string, ids ...string) error {
	return r.conn.XAck(ctx, r.prefix+key, group, ids...).Err()
}

// XGroupCreateMkStream treats an already existing group as success.
func (r *redisAdapter) XGroupCreateMkStream(ctx context.Context, key, group, start string) error {
	err := r.conn.XGroupCreateMkStream(ctx, r.prefix+key, group, start).Err()
	if err != nil && isBusyGroup(err) {
		return nil
	}
	return err
}

func (r *redisAdapter) XLen(ctx context.Context, key string) (int64, error) {
	return r.conn.XLen(ctx, r.prefix+key).Result()
}

func (r *redisAdapter) XTrimApprox(ctx context.Context, key string, maxLen int64) error {
	return r.conn.XTrimMaxLenApprox(ctx, r.prefix+key, maxLen, 0).Err()
}

// XPendingCount returns the number of pending entries and of consumers holding them.
func (r *redisAdapter) XPendingCount(ctx context.Context, key, group string) (int64, int64, error) {
	p, err := r.conn.XPending(ctx, r.prefix+key, group).Result()
	if err != nil {
		return 0, 0, err
	}
	return p.Count, int64(len(p.Consumers)), nil
}

func (r *redisAdapter) XPendingEntries(ctx context.Context, key, group string, count int64) ([]PendingEntry, error) {
	res, err := r.conn.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: r.prefix + key,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]PendingEntry, 0, len(res))
	for _, p := range res {
		entries = append(entries, PendingEntry{ID: p.ID, Consumer: p.Consumer, Idle: p.Idle, RetryCount: p.RetryCount})
	}
	return entries, nil
}

func (r *redisAdapter) XClaim(ctx context.Context, key, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error) {
	res, err := r.conn.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   r.prefix + key,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]StreamMessage, 0, len(res))
	for _, msg := range res {
		messages = append(messages, StreamMessage{ID: msg.ID, Values: msg.Values})
	}
	return messages, nil
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}
