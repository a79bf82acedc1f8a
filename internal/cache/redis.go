package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "cache:"

// flag only existing entries so invalidation never creates empty hashes
var markStaleScript = redis.NewScript(`
local n = 0
for i, k in ipairs(KEYS) do
  if redis.call("EXISTS", k) == 1 then
    redis.call("HSET", k, "stale", "1")
    redis.call("HINCRBY", k, "gen", 1)
    n = n + 1
  end
end
return n
`)

// KEYS[1] entry; ARGV[1] ttl in ms
var reserveScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  redis.call("HSET", KEYS[1], "stale", "1", "gen", "0")
  if tonumber(ARGV[1]) > 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
  end
end
return redis.call("HGET", KEYS[1], "gen") or "0"
`)

// KEYS[1] entry; ARGV: data, gen, updated_at, ttl in ms.
// Returns 1 when the write is fresh, 0 when an invalidation got there first.
var putScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "gen")
local fresh = 0
local gen = ARGV[2]
if cur == false then
  gen = tostring(tonumber(ARGV[2]) + 1)
elseif cur == ARGV[2] then
  fresh = 1
else
  gen = cur
end
local stale = "1"
if fresh == 1 then stale = "0" end
redis.call("HSET", KEYS[1], "data", ARGV[1], "stale", stale, "gen", gen, "updated_at", ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[4])
end
return fresh
`)

// RedisStore keeps each entry in a hash with data, stale, gen and updated_at
// fields. A hash without data is a reservation held by an in-flight load.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Store on rdb. A zero ttl keeps entries until evicted.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(k Key) string { return redisPrefix + k.String() }

func (s *RedisStore) Get(ctx context.Context, key Key) (Entry, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	data, ok := vals["data"]
	if !ok {
		return Entry{}, false, nil
	}
	e := Entry{Data: []byte(data), Stale: vals["stale"] == "1"}
	if g, perr := strconv.ParseUint(vals["gen"], 10, 64); perr == nil {
		e.Gen = g
	}
	if ts := vals["updated_at"]; ts != "" {
		if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			e.UpdatedAt = t
		}
	}
	return e, true, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key Key) (uint64, error) {
	raw, err := reserveScript.Run(ctx, s.rdb, []string{redisKey(key)}, s.ttl.Milliseconds()).Text()
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (s *RedisStore) Put(ctx context.Context, key Key, data []byte, gen uint64) (bool, error) {
	n, err := putScript.Run(ctx, s.rdb, []string{redisKey(key)},
		data,
		strconv.FormatUint(gen, 10),
		time.Now().UTC().Format(time.RFC3339Nano),
		s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Invalidate(ctx context.Context, prefix Key) error {
	base := redisKey(prefix)
	keys := []string{base}

	pattern := escapeGlob(base) + "/*"
	if len(prefix) == 0 {
		pattern = redisPrefix + "*"
	}
	iter := s.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 200 {
			if err := markStaleScript.Run(ctx, s.rdb, keys).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return markStaleScript.Run(ctx, s.rdb, keys).Err()
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

var _ Store = (*RedisStore)(nil)
