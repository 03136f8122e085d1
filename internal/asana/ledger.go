package asana

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// LedgerEntry is the coordination state Asana cannot hold atomically.
type LedgerEntry struct {
	Active     string
	Since      *time.Time
	RetryAt    *time.Time
	LastCallID string
	LastCallAt *time.Time
	// Pending is the encoded resolution a resolving marker stands for.
	Pending string
}

// Swap describes one compare-and-swap on a request's ledger entry.
type Swap struct {
	Expected string // "" means no active call
	Next     string // "" clears the active call
	Now      time.Time

	// RetryAt: nil keeps the stored value, a zero time clears it.
	RetryAt *time.Time
	// LastCallID and LastCallAt are written only when LastCallID is set.
	LastCallID string
	LastCallAt time.Time
	// Pending is stored with the swap; "" deletes it.
	Pending string
}

// Ledger holds active calls, retry times and call id bindings.
type Ledger interface {
	Get(ctx context.Context, id string) (LedgerEntry, error)
	GetMany(ctx context.Context, ids []string) (map[string]LedgerEntry, error)
	CompareAndSwap(ctx context.Context, id string, s Swap) (bool, error)
	BindCall(ctx context.Context, callID, id string) error
	LookupCall(ctx context.Context, callID string) (string, error)
	ActiveBefore(ctx context.Context, before time.Time, limit int) ([]string, error)
	Ping(ctx context.Context) error
}

const (
	keyPrefix   = "confirm:"
	activeIndex = keyPrefix + "active"
	callBinding = 7 * 24 * time.Hour
)

func requestKey(id string) string  { return keyPrefix + "req:" + id }
func callKey(callID string) string { return keyPrefix + "call:" + callID }

var casScript = redis.NewScript(`
-- KEYS[1] = request hash
-- KEYS[2] = active index (zset, score = since ms)
-- ARGV[1] = request id
-- ARGV[2] = expected active ("" = none)
-- ARGV[3] = next active ("" clears)
-- ARGV[4] = now ms
-- ARGV[5] = retry_at ms ("" keeps, "-" clears)
-- ARGV[6] = last call id ("" keeps)
-- ARGV[7] = last call at ms
-- ARGV[8] = pending resolution ("" deletes)
--
-- Returns 1 if swapped, 0 if the expected value did not match.
local cur = redis.call('HGET', KEYS[1], 'active')
if not cur then cur = '' end
if cur ~= ARGV[2] then
  return 0
end

if ARGV[3] == '' then
  redis.call('HDEL', KEYS[1], 'active', 'since')
  redis.call('ZREM', KEYS[2], ARGV[1])
else
  redis.call('HSET', KEYS[1], 'active', ARGV[3], 'since', ARGV[4])
  redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
end

if ARGV[5] == '-' then
  redis.call('HDEL', KEYS[1], 'retry_at')
elseif ARGV[5] ~= '' then
  redis.call('HSET', KEYS[1], 'retry_at', ARGV[5])
end

if ARGV[6] ~= '' then
  redis.call('HSET', KEYS[1], 'last', ARGV[6], 'last_at', ARGV[7])
end

if ARGV[8] == '' then
  redis.call('HDEL', KEYS[1], 'pending')
else
  redis.call('HSET', KEYS[1], 'pending', ARGV[8])
end
return 1
`)

// RedisLedger keeps one hash per request plus a zset of active requests ordered by start time.
type RedisLedger struct {
	rdb *redis.Client
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger { return &RedisLedger{rdb: rdb} }

func (l *RedisLedger) Get(ctx context.Context, id string) (LedgerEntry, error) {
	m, err := l.rdb.HGetAll(ctx, requestKey(id)).Result()
	if err != nil {
		return LedgerEntry{}, err
	}
	return entryFromHash(m), nil
}

func (l *RedisLedger) GetMany(ctx context.Context, ids []string) (map[string]LedgerEntry, error) {
	out := make(map[string]LedgerEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := l.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, requestKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for i, id := range ids {
		out[id] = entryFromHash(cmds[i].Val())
	}
	return out, nil
}

func (l *RedisLedger) CompareAndSwap(ctx context.Context, id string, s Swap) (bool, error) {
	retryAt := ""
	if s.RetryAt != nil {
		if s.RetryAt.IsZero() {
			retryAt = "-"
		} else {
			retryAt = strconv.FormatInt(s.RetryAt.UnixMilli(), 10)
		}
	}
	res, err := casScript.Run(ctx, l.rdb, []string{requestKey(id), activeIndex},
		id,
		s.Expected,
		s.Next,
		s.Now.UnixMilli(),
		retryAt,
		s.LastCallID,
		s.LastCallAt.UnixMilli(),
		s.Pending,
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (l *RedisLedger) BindCall(ctx context.Context, callID, id string) error {
	return l.rdb.Set(ctx, callKey(callID), id, callBinding).Err()
}

// LookupCall returns the request id bound to callID, or "" when none is.
func (l *RedisLedger) LookupCall(ctx context.Context, callID string) (string, error) {
	id, err := l.rdb.Get(ctx, callKey(callID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (l *RedisLedger) ActiveBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: "(" + strconv.FormatInt(before.UnixMilli(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	return l.rdb.ZRangeByScore(ctx, activeIndex, by).Result()
}

func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func entryFromHash(m map[string]string) LedgerEntry {
	return LedgerEntry{
		Active:     m["active"],
		Since:      msTime(m["since"]),
		RetryAt:    msTime(m["retry_at"]),
		LastCallID: m["last"],
		LastCallAt: msTime(m["last_at"]),
		Pending:    m["pending"],
	}
}

func msTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
