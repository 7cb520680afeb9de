package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTokenNotFound is returned when the presented token has no
	// matching record (never issued, already rotated, or revoked).
	ErrTokenNotFound = errors.New("refresh token record not found")
	// ErrTokenExpired is returned when a record exists but its expiry
	// instant has passed; the record is removed on the way out.
	ErrTokenExpired = errors.New("refresh token record expired")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("refresh store redis unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusRotated  int64 = 3
)

// rotateLua atomically replaces one refresh record with its successor.
// The presented record is deleted before the replacement is written, so
// of any number of concurrent calls presenting the same token exactly
// one observes the record and wins; the rest see not-found.
//
// KEYS[1] = old record key, KEYS[2] = new record key, KEYS[3] = user index
// ARGV[1] = old token hash, ARGV[2] = new token hash, ARGV[3] = user id,
// ARGV[4] = new expiry unix, ARGV[5] = now unix, ARGV[6] = ttl millis
var rotateLua = redis.NewScript(`
local user_id = redis.call('HGET', KEYS[1], 'user_id')
if not user_id then
  return {0}
end

local expires_at = tonumber(redis.call('HGET', KEYS[1], 'expires_at') or '0')
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[3], ARGV[1])

if expires_at <= tonumber(ARGV[5]) then
  return {1}
end
if user_id ~= ARGV[3] then
  return {0}
end

redis.call('HSET', KEYS[2], 'user_id', ARGV[3], 'expires_at', ARGV[4])
redis.call('PEXPIRE', KEYS[2], ARGV[6])
redis.call('SADD', KEYS[3], ARGV[2])

return {3}
`)

// deleteLua removes a record and its user-index entry in one step.
// Missing records are not an error; logout is idempotent.
var deleteLua = redis.NewScript(`
local user_id = redis.call('HGET', KEYS[1], 'user_id')
if not user_id then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', 'aru:' .. user_id, ARGV[1])
return 1
`)

// Store is a Redis-backed registry of outstanding refresh-token records.
// Records are keyed by token hash; a per-user set indexes them so that
// revoke-all operations need no scan.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(client redis.UniversalClient) *Store {
	return &Store{
		redis:  client,
		prefix: "art",
	}
}

func (s *Store) key(tokenHash string) string {
	return s.prefix + ":" + tokenHash
}

func (s *Store) userKey(userID string) string {
	return "aru:" + userID
}

// Save registers a freshly issued refresh token for the user.
func (s *Store) Save(ctx context.Context, tokenHash, userID string, ttl time.Duration) error {
	key := s.key(tokenHash)
	expiresAt := time.Now().Add(ttl).Unix()

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "user_id", userID, "expires_at", expiresAt)
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, s.userKey(userID), tokenHash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Rotate replaces the record for oldHash with a record for newHash. The
// old record becomes unusable even when the caller fails afterwards.
func (s *Store) Rotate(ctx context.Context, oldHash, newHash, userID string, ttl time.Duration) error {
	now := time.Now()
	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.key(oldHash), s.key(newHash), s.userKey(userID)},
		oldHash,
		newHash,
		userID,
		strconv.FormatInt(now.Add(ttl).Unix(), 10),
		strconv.FormatInt(now.Unix(), 10),
		strconv.FormatInt(ttl.Milliseconds(), 10),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) == 0 {
		return fmt.Errorf("%w: malformed rotate reply", ErrRedisUnavailable)
	}
	status, _ := values[0].(int64)

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusExpired:
		return ErrTokenExpired
	default:
		return ErrTokenNotFound
	}
}

// Exists reports whether a live record is present for the token hash.
func (s *Store) Exists(ctx context.Context, tokenHash string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// Delete removes the record matching the token hash. Absence is not an
// error.
func (s *Store) Delete(ctx context.Context, tokenHash string) error {
	if err := deleteLua.Run(ctx, s.redis, []string{s.key(tokenHash)}, tokenHash).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser revokes every outstanding refresh token of the user.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)

	hashes, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, h := range hashes {
			pipe.Del(ctx, s.key(h))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// CountForUser reports the number of indexed records for the user.
func (s *Store) CountForUser(ctx context.Context, userID string) (int, error) {
	n, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}
