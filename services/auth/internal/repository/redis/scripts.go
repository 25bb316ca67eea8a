package redis

import "github.com/redis/go-redis/v9"

// Key layout:
//
//	session:token:<hash>   HASH  one refresh-token record, expires with the token
//	session:user:<userID>  ZSET  hashes of the user's live records, scored by creation time
//	session:family:<sid>   SET   every hash ever issued for one session
//
// Scripts build token and family keys from the prefixes they receive in ARGV,
// so the store needs a single Redis node (no cluster slot routing).

const (
	tokenKeyPrefix  = "session:token:"
	userKeyPrefix   = "session:user:"
	familyKeyPrefix = "session:family:"
)

// purgeDead is shared by the scripts: it drops members of a user's live set
// whose record is gone, revoked or expired, and returns the number of live members.
const purgeDead = `
local function purge(userKey, tokenPrefix, now)
  local live = 0
  for _, h in ipairs(redis.call('ZRANGE', userKey, 0, -1)) do
    local f = redis.call('HMGET', tokenPrefix .. h, 'expires_at', 'revoked')
    if (not f[1]) or tonumber(f[1]) <= now or f[2] == '1' then
      redis.call('ZREM', userKey, h)
    else
      live = live + 1
    end
  end
  return live
end
`

// createScript stores a record and evicts the oldest live ones beyond the cap.
//
// KEYS: user set, token key, family set
// ARGV: now, max, id, user_id, session_id, expires_at, hash, token prefix
var createScript = redis.NewScript(purgeDead + `
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local live = purge(KEYS[1], ARGV[8], now)

local evicted = 0
if max > 0 and live > max - 1 then
  for _, h in ipairs(redis.call('ZRANGE', KEYS[1], 0, live - max)) do
    redis.call('HSET', ARGV[8] .. h, 'revoked', '1', 'updated_at', ARGV[1])
    redis.call('ZREM', KEYS[1], h)
    evicted = evicted + 1
  end
end

redis.call('HSET', KEYS[2],
  'id', ARGV[3], 'user_id', ARGV[4], 'session_id', ARGV[5], 'expires_at', ARGV[6],
  'revoked', '0', 'replaced_by', '', 'created_at', ARGV[1], 'updated_at', ARGV[1])
redis.call('PEXPIREAT', KEYS[2], ARGV[6])
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[7])
redis.call('SADD', KEYS[3], ARGV[7])
redis.call('PEXPIREAT', KEYS[3], ARGV[6])
return evicted
`)

// rotateScript consumes a live record and stores its replacement, or
// classifies why it cannot. A record rotated less than the grace period ago
// whose replacement is still live lost a concurrent race and is only
// rejected. Any other already rotated record revokes its whole family.
//
// KEYS: presented token key
// ARGV: now, next id, next hash, presented hash, token prefix, user prefix, family prefix, grace
var rotateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'not_found'}
end

local now = tonumber(ARGV[1])
local f = redis.call('HMGET', KEYS[1], 'id', 'user_id', 'session_id', 'expires_at', 'revoked',
  'replaced_by', 'created_at', 'updated_at', 'replaced_by_hash')
local userKey = ARGV[6] .. f[2]
local familyKey = ARGV[7] .. f[3]

if f[5] == '1' then
  if f[6] and f[6] ~= '' then
    if f[9] and f[9] ~= '' and now - tonumber(f[8]) < tonumber(ARGV[8]) then
      local nf = redis.call('HMGET', ARGV[5] .. f[9], 'revoked', 'replaced_by', 'expires_at')
      if nf[1] == '0' and ((not nf[2]) or nf[2] == '') and tonumber(nf[3]) > now then
        return {'superseded'}
      end
    end
    for _, h in ipairs(redis.call('SMEMBERS', familyKey)) do
      local tk = ARGV[5] .. h
      if redis.call('HGET', tk, 'revoked') == '0' then
        redis.call('HSET', tk, 'revoked', '1', 'updated_at', ARGV[1])
      end
      redis.call('ZREM', userKey, h)
    end
    return {'reused', f[1], f[2], f[3]}
  end
  return {'revoked'}
end

if tonumber(f[4]) <= now then
  return {'expired'}
end

redis.call('HSET', KEYS[1], 'revoked', '1', 'replaced_by', ARGV[2], 'replaced_by_hash', ARGV[3], 'updated_at', ARGV[1])
redis.call('ZREM', userKey, ARGV[4])

local nk = ARGV[5] .. ARGV[3]
redis.call('HSET', nk,
  'id', ARGV[2], 'user_id', f[2], 'session_id', f[3], 'expires_at', f[4],
  'revoked', '0', 'replaced_by', '', 'created_at', ARGV[1], 'updated_at', ARGV[1])
redis.call('PEXPIREAT', nk, f[4])
redis.call('ZADD', userKey, ARGV[1], ARGV[3])
redis.call('SADD', familyKey, ARGV[3])
return {'ok', f[1], f[2], f[3], f[4], f[7]}
`)

// revokeSessionScript revokes the live records of one session owned by a user.
//
// KEYS: family set, user set
// ARGV: now, user_id, token prefix
var revokeSessionScript = redis.NewScript(`
local n = 0
for _, h in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local tk = ARGV[3] .. h
  local f = redis.call('HMGET', tk, 'user_id', 'revoked')
  if f[1] == ARGV[2] and f[2] == '0' then
    redis.call('HSET', tk, 'revoked', '1', 'updated_at', ARGV[1])
    n = n + 1
  end
  redis.call('ZREM', KEYS[2], h)
end
return n
`)

// revokeAllScript revokes every live record of a user.
//
// KEYS: user set
// ARGV: now, token prefix
var revokeAllScript = redis.NewScript(purgeDead + `
local now = tonumber(ARGV[1])
purge(KEYS[1], ARGV[2], now)
local n = 0
for _, h in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
  redis.call('HSET', ARGV[2] .. h, 'revoked', '1', 'updated_at', ARGV[1])
  n = n + 1
end
redis.call('DEL', KEYS[1])
return n
`)

// countScript purges dead members and returns the live count.
//
// KEYS: user set
// ARGV: now, token prefix
var countScript = redis.NewScript(purgeDead + `
return purge(KEYS[1], ARGV[2], tonumber(ARGV[1]))
`)

// purgeScript drops dead members and returns how many were removed.
//
// KEYS: user set
// ARGV: now, token prefix
var purgeScript = redis.NewScript(purgeDead + `
local before = redis.call('ZCARD', KEYS[1])
local live = purge(KEYS[1], ARGV[2], tonumber(ARGV[1]))
return before - live
`)
