package redistore

import "github.com/redis/go-redis/v9"

// All multi-key mutations run as Lua scripts. Redis executes a script as a
// single atomic unit, which is the backend primitive the storage contract
// leans on for create-conflict checks and the at-most-one-claimant latch
// rule. Time never comes from the Redis server; callers pass the current
// instant in ARGV so tests can pin the clock.

// createGrantLua inserts a grant hash and its index entries, refusing an ID
// that already exists.
//
// KEYS[1] grant hash, KEYS[2] sequence counter, KEYS[3] all-grants zset,
// KEYS[4] per-effect zset. ARGV[1] id, ARGV[2] blob, ARGV[3] effect.
var createGrantLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return -1
end
local seq = redis.call("INCR", KEYS[2])
redis.call("HSET", KEYS[1], "blob", ARGV[2], "effect", ARGV[3], "seq", seq)
redis.call("ZADD", KEYS[3], seq, ARGV[1])
redis.call("ZADD", KEYS[4], seq, ARGV[1])
return seq
`)

// deleteGrantLua removes a grant hash and all of its index entries, picking
// the per-effect zset from the stored effect field.
//
// KEYS[1] grant hash, KEYS[2] all-grants zset, KEYS[3] allow zset,
// KEYS[4] deny zset. ARGV[1] id. Returns 0 when the grant does not exist.
var deleteGrantLua = redis.NewScript(`
local effect = redis.call("HGET", KEYS[1], "effect")
if not effect then
	return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
if effect == "allow" then
	redis.call("ZREM", KEYS[3], ARGV[1])
else
	redis.call("ZREM", KEYS[4], ARGV[1])
end
return 1
`)

// createLatchLua inserts one pending latch hash and its index entries.
//
// KEYS[1] latch sequence counter, KEYS[2] latch hash, KEYS[3] all-latches
// zset, KEYS[4] pending zset. ARGV[1] id, ARGV[2] partition descriptor,
// ARGV[3] creation time in unix milliseconds.
var createLatchLua = redis.NewScript(`
local seq = redis.call("INCR", KEYS[1])
redis.call("HSET", KEYS[2],
	"id", ARGV[1],
	"partition", ARGV[2],
	"state", "pending",
	"owner", "",
	"expiry", "0",
	"retry", "0",
	"seq", seq,
	"created", ARGV[3])
redis.call("ZADD", KEYS[3], seq, ARGV[1])
redis.call("ZADD", KEYS[4], seq, ARGV[1])
return seq
`)

// claimLatchLua claims the oldest pending latch, or failing that the
// claimed latch whose lease expired longest ago. Returns false when nothing
// is claimable, otherwise the claimed latch hash. Reclaiming an expired
// claim increments the retry field.
//
// KEYS[1] pending zset, KEYS[2] claimed zset (scored by expiry millis).
// ARGV[1] latch key prefix, ARGV[2] now millis, ARGV[3] worker id,
// ARGV[4] new expiry millis.
var claimLatchLua = redis.NewScript(`
local id = nil
local pending = redis.call("ZRANGE", KEYS[1], 0, 0)
if pending[1] then
	id = pending[1]
	redis.call("ZREM", KEYS[1], id)
else
	local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[2], "LIMIT", 0, 1)
	if expired[1] then
		id = expired[1]
		redis.call("HINCRBY", ARGV[1] .. id, "retry", 1)
	end
end
if not id then
	return false
end
local key = ARGV[1] .. id
redis.call("HSET", key, "state", "claimed", "owner", ARGV[3], "expiry", ARGV[4])
redis.call("ZADD", KEYS[2], ARGV[4], id)
return redis.call("HGETALL", key)
`)

// completeLatchLua marks a claimed latch done. Returns 1 when the latch is
// missing, 2 when it is not claimed by the caller, 0 on success.
//
// KEYS[1] latch hash, KEYS[2] claimed zset. ARGV[1] worker id, ARGV[2] id.
var completeLatchLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 1
end
local state = redis.call("HGET", KEYS[1], "state")
local owner = redis.call("HGET", KEYS[1], "owner")
if state ~= "claimed" or owner ~= ARGV[1] then
	return 2
end
redis.call("HSET", KEYS[1], "state", "done", "owner", "", "expiry", "0")
redis.call("ZREM", KEYS[2], ARGV[2])
return 0
`)

// failLatchLua reverts a claimed latch to pending and increments its retry
// count, re-indexing it by its original sequence so claim order is
// preserved. Same return codes and ownership guard as completeLatchLua.
//
// KEYS[1] latch hash, KEYS[2] claimed zset, KEYS[3] pending zset.
// ARGV[1] worker id, ARGV[2] id.
var failLatchLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 1
end
local state = redis.call("HGET", KEYS[1], "state")
local owner = redis.call("HGET", KEYS[1], "owner")
if state ~= "claimed" or owner ~= ARGV[1] then
	return 2
end
local seq = redis.call("HGET", KEYS[1], "seq")
redis.call("HSET", KEYS[1], "state", "pending", "owner", "", "expiry", "0")
redis.call("HINCRBY", KEYS[1], "retry", 1)
redis.call("ZREM", KEYS[2], ARGV[2])
redis.call("ZADD", KEYS[3], seq, ARGV[2])
return 0
`)
