package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Each document is a hash {data, version, updated_at}. Counters live in a
// separate hash per key under the counters namespace.
const counterNS = "counters:"

var insertIfAbsentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', '1', 'updated_at', ARGV[2])
return 1
`)

var casScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v or tonumber(v) ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'updated_at', ARGV[3])
redis.call('HINCRBY', KEYS[1], 'version', '1')
return 1
`)

var deleteVersionScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v or tonumber(v) ~= tonumber(ARGV[1]) then
	return 0
end
return redis.call('DEL', KEYS[1])
`)

type Redis struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) key(k string) string        { return r.prefix + k }
func (r *Redis) counterKey(k string) string { return r.prefix + counterNS + k }

func nowNano() string { return strconv.FormatInt(time.Now().UnixNano(), 10) }

func parseDocument(key string, h map[string]string) (Document, bool) {
	data, ok := h["data"]
	if !ok {
		return Document{}, false
	}
	v, _ := strconv.ParseInt(h["version"], 10, 64)
	ts, _ := strconv.ParseInt(h["updated_at"], 10, 64)
	return Document{Key: key, Data: []byte(data), Version: v, UpdatedAt: time.Unix(0, ts)}, true
}

func (r *Redis) Get(ctx context.Context, key string) (Document, error) {
	h, err := r.rdb.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return Document{}, errors.Wrapf(err, "redis get %s", key)
	}
	d, ok := parseDocument(key, h)
	if !ok {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (r *Redis) Put(ctx context.Context, key string, data []byte) error {
	k := r.key(key)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, "data", data, "updated_at", nowNano())
		pipe.HIncrBy(ctx, k, "version", 1)
		return nil
	})
	return errors.Wrapf(err, "redis put %s", key)
}

func (r *Redis) InsertIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	n, err := insertIfAbsentScript.Run(ctx, r.rdb, []string{r.key(key)}, data, nowNano()).Int()
	if err != nil {
		return false, errors.Wrapf(err, "redis insert %s", key)
	}
	return n == 1, nil
}

func (r *Redis) CompareAndSwap(ctx context.Context, key string, version int64, data []byte) (bool, error) {
	n, err := casScript.Run(ctx, r.rdb, []string{r.key(key)}, version, data, nowNano()).Int()
	if err != nil {
		return false, errors.Wrapf(err, "redis cas %s", key)
	}
	return n == 1, nil
}

func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Del(ctx, r.key(key)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis delete %s", key)
	}
	return n > 0, nil
}

func (r *Redis) DeleteVersion(ctx context.Context, key string, version int64) (bool, error) {
	n, err := deleteVersionScript.Run(ctx, r.rdb, []string{r.key(key)}, version).Int()
	if err != nil {
		return false, errors.Wrapf(err, "redis delete version %s", key)
	}
	return n > 0, nil
}

// scan collects the full redis keys of documents under prefix.
func (r *Redis) scan(ctx context.Context, prefix string) ([]string, error) {
	pattern := r.key(globEscape(prefix)) + "*"
	skip := r.prefix + counterNS

	var keys []string
	iter := r.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if strings.HasPrefix(k, skip) {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	keys, err := r.scan(ctx, prefix)
	if err != nil {
		return 0, errors.Wrapf(err, "redis scan %s", prefix)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.rdb.Del(ctx, keys...).Result()
	return n, errors.Wrapf(err, "redis delete prefix %s", prefix)
}

func (r *Redis) FindByPrefix(ctx context.Context, prefix string) ([]Document, error) {
	keys, err := r.scan(ctx, prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "redis scan %s", prefix)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "redis find %s", prefix)
	}

	out := make([]Document, 0, len(keys))
	for i, cmd := range cmds {
		// deleted between SCAN and HGETALL
		if d, ok := parseDocument(strings.TrimPrefix(keys[i], r.prefix), cmd.Val()); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *Redis) Increment(ctx context.Context, key, field string, delta float64) (float64, error) {
	v, err := r.rdb.HIncrByFloat(ctx, r.counterKey(key), field, delta).Result()
	return v, errors.Wrapf(err, "redis increment %s.%s", key, field)
}

func (r *Redis) Counters(ctx context.Context, key string) (map[string]float64, error) {
	h, err := r.rdb.HGetAll(ctx, r.counterKey(key)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis counters %s", key)
	}
	out := make(map[string]float64, len(h))
	for f, s := range h {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "redis counter %s.%s", key, f)
		}
		out[f] = v
	}
	return out, nil
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ Store = (*Redis)(nil)
