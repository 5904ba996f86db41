package backend

// claimScript pops the first WAITING job (KEYS[1]) whose lock, if any, is
// currently unheld, and atomically transitions it to RUNNING under the
// calling orchestrator. Many orchestrators race to claim the same waiting
// set, and the winner must be decided without a lost-update window
// between "is the lock free" and "take the job".
//
// KEYS[1] = waiting zset
// ARGV[1] = orchestrator id
// ARGV[2] = now (unix seconds)
// returns the claimed job id, or false if nothing is claimable.
const claimScript = `
local ids = redis.call('ZRANGEBYLEX', KEYS[1], '-', '+')
for i = 1, #ids do
  local id = ids[i]
  local jobKey = 'xcute:job:' .. id
  local lock = redis.call('HGET', jobKey, 'lock')
  local claimable = true
  if lock and lock ~= '' then
    local holder = redis.call('GET', 'xcute:lock:' .. lock)
    if holder then
      claimable = false
    end
  end
  if claimable then
    redis.call('ZREM', KEYS[1], id)
    redis.call('HSET', jobKey, 'status', 'RUNNING', 'orchestrator_id', ARGV[1], 'mtime', ARGV[2])
    redis.call('SADD', 'xcute:orchestrator:' .. ARGV[1], id)
    if lock and lock ~= '' then
      redis.call('SET', 'xcute:lock:' .. lock, id)
    end
    return id
  end
end
return false
`

// pauseScript transitions a RUNNING job to PAUSED and releases its lock so
// another job needing the same lock becomes claimable. The job keeps its
// orchestrator assignment while paused and is not re-added to the waiting
// set: a paused job is resumed explicitly.
//
// KEYS[1] = job hash key, KEYS[2] = waiting zset, KEYS[3] = jobs zset
// ARGV[1] = job id, ARGV[2] = now, ARGV[3] = unused
const pauseScript = `
local status = redis.call('HGET', KEYS[1], 'status')
if status == false then
  return 'not_found'
end
if status ~= 'RUNNING' then
  return 'bad_state'
end
local lock = redis.call('HGET', KEYS[1], 'lock')
if lock and lock ~= '' then
  local holder = redis.call('GET', 'xcute:lock:' .. lock)
  if holder == ARGV[1] then
    redis.call('DEL', 'xcute:lock:' .. lock)
  end
end
redis.call('HSET', KEYS[1], 'status', 'PAUSED', 'mtime', ARGV[2])
return 'ok'
`

// resumeScript transitions a PAUSED job back to WAITING, clearing its
// orchestrator assignment and re-adding it to the waiting set so the next
// Claim can pick it up.
//
// KEYS[1] = job hash key, KEYS[2] = waiting zset, KEYS[3] = jobs zset
// ARGV[1] = job id, ARGV[2] = now, ARGV[3] = unused
const resumeScript = `
local status = redis.call('HGET', KEYS[1], 'status')
if status == false then
  return 'not_found'
end
if status ~= 'PAUSED' then
  return 'bad_state'
end
local oid = redis.call('HGET', KEYS[1], 'orchestrator_id')
if oid and oid ~= '' then
  redis.call('SREM', 'xcute:orchestrator:' .. oid, ARGV[1])
end
redis.call('HSET', KEYS[1], 'status', 'WAITING', 'orchestrator_id', '', 'mtime', ARGV[2])
redis.call('ZADD', KEYS[2], 0, ARGV[1])
return 'ok'
`

// finishScript transitions a RUNNING job to FINISHED, releasing its lock
// and orchestrator assignment.
//
// KEYS[1] = job hash key, KEYS[2] = waiting zset, KEYS[3] = jobs zset
// ARGV[1] = job id, ARGV[2] = now, ARGV[3] = unused
const finishScript = `
local status = redis.call('HGET', KEYS[1], 'status')
if status == false then
  return 'not_found'
end
if status ~= 'RUNNING' then
  return 'bad_state'
end
local lock = redis.call('HGET', KEYS[1], 'lock')
if lock and lock ~= '' then
  local holder = redis.call('GET', 'xcute:lock:' .. lock)
  if holder == ARGV[1] then
    redis.call('DEL', 'xcute:lock:' .. lock)
  end
end
local oid = redis.call('HGET', KEYS[1], 'orchestrator_id')
if oid and oid ~= '' then
  redis.call('SREM', 'xcute:orchestrator:' .. oid, ARGV[1])
end
redis.call('HSET', KEYS[1], 'status', 'FINISHED', 'orchestrator_id', '', 'mtime', ARGV[2])
return 'ok'
`

// failScript transitions a RUNNING or WAITING job to FAILED, releasing its
// lock and orchestrator assignment and recording the failure reason in
// details.error.
//
// KEYS[1] = job hash key, KEYS[2] = waiting zset, KEYS[3] = jobs zset
// ARGV[1] = job id, ARGV[2] = now, ARGV[3] = reason
const failScript = `
local status = redis.call('HGET', KEYS[1], 'status')
if status == false then
  return 'not_found'
end
if status ~= 'RUNNING' and status ~= 'WAITING' then
  return 'bad_state'
end
local lock = redis.call('HGET', KEYS[1], 'lock')
if lock and lock ~= '' then
  local holder = redis.call('GET', 'xcute:lock:' .. lock)
  if holder == ARGV[1] then
    redis.call('DEL', 'xcute:lock:' .. lock)
  end
end
local oid = redis.call('HGET', KEYS[1], 'orchestrator_id')
if oid and oid ~= '' then
  redis.call('SREM', 'xcute:orchestrator:' .. oid, ARGV[1])
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'status', 'FAILED', 'orchestrator_id', '', 'mtime', ARGV[2])
if ARGV[3] and ARGV[3] ~= '' then
  redis.call('HSET', 'xcute:job:' .. ARGV[1] .. ':details', 'error', cjson.encode(ARGV[3]))
end
return 'ok'
`

// deleteScript removes a job and every index entry referencing it. It
// refuses to delete a RUNNING job: a job being
// actively worked cannot vanish out from under its orchestrator.
//
// KEYS[1] = job hash key, KEYS[2] = waiting zset, KEYS[3] = jobs zset
// ARGV[1] = job id, ARGV[2] = now, ARGV[3] = unused
const deleteScript = `
local status = redis.call('HGET', KEYS[1], 'status')
if status == false then
  return 'not_found'
end
if status == 'RUNNING' then
  return 'bad_state'
end
local lock = redis.call('HGET', KEYS[1], 'lock')
if lock and lock ~= '' then
  local holder = redis.call('GET', 'xcute:lock:' .. lock)
  if holder == ARGV[1] then
    redis.call('DEL', 'xcute:lock:' .. lock)
  end
end
local oid = redis.call('HGET', KEYS[1], 'orchestrator_id')
if oid and oid ~= '' then
  redis.call('SREM', 'xcute:orchestrator:' .. oid, ARGV[1])
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('DEL', KEYS[1])
redis.call('DEL', 'xcute:job:' .. ARGV[1] .. ':errors')
redis.call('DEL', 'xcute:job:' .. ARGV[1] .. ':details')
return 'ok'
`
