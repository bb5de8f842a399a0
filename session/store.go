package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every transport failure talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrRotateNotFound is returned when the rotation target session does not exist.
var ErrRotateNotFound = errors.New("rotation session not found")

// ErrRotateExpired is returned when the rotation target session has expired.
var ErrRotateExpired = errors.New("rotation session expired")

// ErrRotateRevoked is returned when the rotation target session was already revoked.
var ErrRotateRevoked = errors.New("rotation session revoked")

// ErrRotateMismatch is returned when the presented refresh hash does not match
// the stored one. The store revokes the session in place before returning this,
// so a stolen-then-replayed token kills the whole session line.
var ErrRotateMismatch = errors.New("refresh hash mismatch")

// ErrRotateCorrupt is returned when the stored session blob cannot be parsed.
var ErrRotateCorrupt = errors.New("rotation session corrupt")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusCorrupt  int64 = 4
	rotateStatusRevoked  int64 = 5
)

// Lua script offsets are 1-indexed images of the layout in encoder.go:
// revoked flag at byte 2, refresh hash at 3..34, lastActivityAt at 75..82,
// expiresAt at 83..90.
const luaHelpers = `
local function read_be64(s, i)
  local v = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then return nil end
    v = v * 256 + b
  end
  return v
end

local function write_be64(v)
  local out = {}
  for k = 8, 1, -1 do
    out[k] = string.char(v % 256)
    v = math.floor(v / 256)
  end
  return table.concat(out)
end
`

const rotateRefreshScript = luaHelpers + `
local key = KEYS[1]
local provided = ARGV[1]
local next_hash = ARGV[2]
local now = tonumber(ARGV[3])

local data = redis.call("GET", key)
if not data then
  return {0}
end
if #data < 90 or string.byte(data, 1) ~= 1 then
  return {4}
end

local expires = read_be64(data, 83)
if not expires or expires <= now then
  redis.call("DEL", key)
  return {1}
end

if string.byte(data, 2) == 1 then
  return {5}
end

local ttl = redis.call("PTTL", key)
if ttl <= 0 then
  redis.call("DEL", key)
  return {1}
end

if string.sub(data, 3, 34) ~= provided then
  local revoked = string.sub(data, 1, 1) .. string.char(1) .. string.sub(data, 3)
  redis.call("SET", key, revoked, "PX", ttl)
  return {2}
end

local updated = string.sub(data, 1, 2) .. next_hash .. string.sub(data, 35, 74) .. write_be64(now) .. string.sub(data, 83)
redis.call("SET", key, updated, "PX", ttl)
return {3, updated}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const revokeSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
if #data < 2 then
  return -1
end
if string.byte(data, 2) == 1 then
  return 2
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return 0
end
local updated = string.sub(data, 1, 1) .. string.char(1) .. string.sub(data, 3)
redis.call("SET", KEYS[1], updated, "PX", ttl)
return 1
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

const touchSessionScript = luaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
if #data < 90 then
  return -1
end
if string.byte(data, 2) == 1 then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return 0
end
local updated = string.sub(data, 1, 74) .. write_be64(tonumber(ARGV[1])) .. string.sub(data, 83)
redis.call("SET", KEYS[1], updated, "PX", ttl)
return 1
`

var touchSessionLua = redis.NewScript(touchSessionScript)

// Store is a Redis-backed session registry that handles persistence,
// expiration, tombstone revocation, and atomic refresh-hash rotation.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace; now supplies the clock and must not
// be nil.
func NewStore(client redis.UniversalClient, prefix string, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		redis:  client,
		prefix: prefix,
		now:    now,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) accountKey(accountID string) string {
	return s.prefix + "a:" + accountID
}

// Save persists a [Session] and adds it to the account index.
//
//	Performance: 2 Redis commands in one transaction (SET + SADD).
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, s.accountKey(sess.AccountID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get fetches a session without mutating Redis state. Expired sessions are
// reported as redis.Nil even if the key still lingers.
//
//	Performance: 1 Redis GET.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	if s.now().Unix() >= sess.ExpiresAt {
		return nil, redis.Nil
	}

	return sess, nil
}

// ListForAccount returns all live sessions for an account, most recently
// active first. Revoked sessions that still hold their tombstone TTL are
// included with Revoked set; expired ones are pruned from the index.
func (s *Store) ListForAccount(ctx context.Context, accountID string) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	nowUnix := s.now().Unix()
	sessions := make([]*Session, 0, len(ids))
	var stale []interface{}

	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		sess.SessionID = ids[i]

		if nowUnix >= sess.ExpiresAt {
			stale = append(stale, ids[i])
			continue
		}

		sessions = append(sessions, sess)
	}

	// Index cleanup is best effort; a failed SREM only leaves stale
	// members for the next list or purge to drop.
	if len(stale) > 0 {
		_ = s.redis.SRem(ctx, s.accountKey(accountID), stale...).Err()
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivityAt > sessions[j].LastActivityAt
	})

	return sessions, nil
}

// Revoke marks a session as revoked in place, keeping its remaining TTL so
// replayed refresh tokens observe the revocation. Revoking a missing or
// already revoked session is a no-op; the bool reports whether this call
// changed state.
func (s *Store) Revoke(ctx context.Context, sessionID string) (bool, error) {
	result, err := revokeSessionLua.Run(ctx, s.redis, []string{s.key(sessionID)}).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if result == -1 {
		return false, ErrRotateCorrupt
	}
	return result == 1, nil
}

// RevokeAllForAccount revokes every tracked session of an account and
// returns how many transitioned to revoked.
//
// ATOMICITY NOTE: the index read and the per-session revocations are
// separate commands. A session created between the two phases is not
// captured by this call; it is caught by the caller's next revoke-all or
// expires naturally.
func (s *Store) RevokeAllForAccount(ctx context.Context, accountID string) (int, error) {
	return s.revokeAll(ctx, accountID, "")
}

// RevokeAllExcept revokes every tracked session of an account except
// keepSessionID. Used when a password change should end all other devices.
func (s *Store) RevokeAllExcept(ctx context.Context, accountID, keepSessionID string) (int, error) {
	return s.revokeAll(ctx, accountID, keepSessionID)
}

func (s *Store) revokeAll(ctx context.Context, accountID, keepSessionID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	for _, id := range ids {
		if id == keepSessionID {
			continue
		}
		changed, err := s.Revoke(ctx, id)
		if err != nil {
			return revoked, err
		}
		if changed {
			revoked++
		}
	}

	return revoked, nil
}

// Touch updates the session's last-activity timestamp without extending its
// TTL. Failures are reported but callers treat them as best effort.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	err := touchSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		s.now().Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RotateRefreshHash atomically replaces the refresh-token hash in the
// session using a Lua CAS script, and stamps last activity. This is the core
// of the rotation protocol that enables reuse detection.
//
//	Performance: 1 Lua EVALSHA (atomic compare-and-swap).
//	Security: on hash mismatch the session is revoked in place, so the
//	token line dies the moment a replay is observed.
func (s *Store) RotateRefreshHash(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
) (*Session, error) {
	key := s.key(sessionID)
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{key},
		providedHash[:],
		nextHash[:],
		s.now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotation script response", ErrRedisUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotation script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrRotateNotFound
	case rotateStatusExpired:
		return nil, ErrRotateExpired
	case rotateStatusRevoked:
		return nil, ErrRotateRevoked
	case rotateStatusMismatch:
		return nil, ErrRotateMismatch
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing updated session payload", ErrRedisUnavailable)
		}

		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid updated session payload", ErrRedisUnavailable)
		}

		sess, decErr := Decode(blob)
		if decErr != nil {
			return nil, decErr
		}
		sess.SessionID = sessionID
		return sess, nil
	case rotateStatusCorrupt:
		return nil, ErrRotateCorrupt
	default:
		return nil, fmt.Errorf("%w: unknown rotation script status", ErrRedisUnavailable)
	}
}

// PurgeExpired removes index members whose session keys have expired and
// returns how many were dropped. Intended for an external periodic sweep;
// session payloads themselves expire through their Redis TTL.
func (s *Store) PurgeExpired(ctx context.Context, accountID string) (int, error) {
	accountKey := s.accountKey(accountID)

	ids, err := s.redis.SMembers(ctx, accountKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		existsCmds[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var stale []interface{}
	for i, cmd := range existsCmds {
		v, cmdErr := cmd.Result()
		if cmdErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		if v == 0 {
			stale = append(stale, ids[i])
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}

	if err := s.redis.SRem(ctx, accountKey, stale...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return len(stale), nil
}

// ActiveSessionCount returns the number of tracked session IDs for an account.
func (s *Store) ActiveSessionCount(ctx context.Context, accountID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
