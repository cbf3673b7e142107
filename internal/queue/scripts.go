package queue

import "github.com/redis/go-redis/v9"

// enqueueScript creates a job hash and makes it visible in one step, so a
// failed enqueue never leaves a hash that blocks its explicit id.
//
// KEYS: job hash, wait list, delayed set
// ARGV: id, delay score ("" when not delayed), expiry ms (0 for none),
// then field/value pairs.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local fields = {}
for i = 4, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', KEYS[1], unpack(fields))
if ARGV[2] ~= '' then
  redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
else
  redis.call('LPUSH', KEYS[2], ARGV[1])
end
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// claimScript marks a job moved to the active list as running and locks
// it. A dangling id, whose hash was pruned while it waited, is removed from
// the active list instead and 0 is returned.
//
// KEYS: job hash, active list, lock key
// ARGV: id, now ms, lock ms, processed_at field, delayed_until field,
// attempts_made field
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('LREM', KEYS[2], 1, ARGV[1])
  return 0
end
redis.call('HSET', KEYS[1], ARGV[4], ARGV[2])
redis.call('HDEL', KEYS[1], ARGV[5])
redis.call('HINCRBY', KEYS[1], ARGV[6], 1)
redis.call('SET', KEYS[3], ARGV[2], 'PX', ARGV[3])
return 1
`)
