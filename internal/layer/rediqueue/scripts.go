package rediqueue

import "github.com/redis/go-redis/v9"

// boundedPush atomically checks the target list's length against a
// capacity and appends only if there's room, refreshing the list's TTL
// on every successful push. go-redis's Script.Run already does the
// EVALSHA-then-EVAL-on-NOSCRIPT dance (see redis.Script.Run), so callers
// never have to think about script caching themselves.
//
// KEYS[1] = list key
// ARGV[1] = capacity (0 means unbounded)
// ARGV[2] = encoded payload
// ARGV[3] = list TTL in seconds
// returns 1 if pushed, 0 if the channel was full
var boundedPush = redis.NewScript(`
local capacity = tonumber(ARGV[1])
if capacity > 0 then
	local len = redis.call('LLEN', KEYS[1])
	if len >= capacity then
		return 0
	end
end
redis.call('RPUSH', KEYS[1], ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// reapGroup evicts members whose join score predates the expiry cutoff and
// returns the channel names that are still current, mirroring how
// centrifugo's presence scripts age out stale sorted-set members.
//
// KEYS[1] = group sorted set key
// ARGV[1] = cutoff unix timestamp
// returns the list of surviving member channel names
var reapGroup = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], '+inf')
`)
