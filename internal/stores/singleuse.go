package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Purpose tags what a single-use token grants. Reset and verification
// tokens share one record shape but can never redeem each other.
type Purpose string

const (
	PurposeReset  Purpose = "reset"
	PurposeVerify Purpose = "verify"
)

var (
	ErrSingleUseNotFound         = errors.New("single-use record not found")
	ErrSingleUseConsumed         = errors.New("single-use record already consumed")
	ErrSingleUseExpired          = errors.New("single-use record expired")
	ErrSingleUseRedisUnavailable = errors.New("single-use store redis unavailable")
)

const (
	consumeStatusNotFound int64 = 0
	consumeStatusConsumed int64 = 1
	consumeStatusExpired  int64 = 2
	consumeStatusOK       int64 = 3
)

// consumeLua flips the consumed flag exactly once. The record is kept
// (with its remaining TTL) so later presentations fail as consumed, not
// as unknown.
//
// KEYS[1] = record key
// ARGV[1] = expected purpose, ARGV[2] = now unix
var consumeLua = redis.NewScript(`
local fields = redis.call('HMGET', KEYS[1], 'consumed', 'expires_at', 'purpose', 'email', 'user_id')
if not fields[1] then
  return {0}
end
if fields[3] ~= ARGV[1] then
  return {0}
end
if tonumber(fields[2]) <= tonumber(ARGV[2]) then
  return {2}
end
if fields[1] == '1' then
  return {1}
end

redis.call('HSET', KEYS[1], 'consumed', '1')
return {3, fields[4], fields[5]}
`)

// SingleUseRecord is one password-reset or email-verification grant.
type SingleUseRecord struct {
	Email     string
	UserID    string
	Purpose   Purpose
	ExpiresAt int64
	Consumed  bool
}

// SingleUseStore keeps single-use token records in Redis, keyed by the
// hash of the opaque token. Consumption is atomic and one-way.
type SingleUseStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSingleUseStore(client redis.UniversalClient) *SingleUseStore {
	return &SingleUseStore{
		redis:  client,
		prefix: "asu",
	}
}

func (s *SingleUseStore) key(tokenHash string) string {
	return s.prefix + ":" + tokenHash
}

// Save persists a fresh record with TTL equal to its validity window.
func (s *SingleUseStore) Save(ctx context.Context, tokenHash string, record *SingleUseRecord, ttl time.Duration) error {
	key := s.key(tokenHash)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"email", record.Email,
			"user_id", record.UserID,
			"purpose", string(record.Purpose),
			"expires_at", record.ExpiresAt,
			"consumed", "0",
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSingleUseRedisUnavailable, err)
	}

	return nil
}

// Consume redeems the record for the expected purpose. It succeeds at
// most once per record: the consumed flag transitions false to true and
// never back.
func (s *SingleUseStore) Consume(ctx context.Context, tokenHash string, purpose Purpose) (*SingleUseRecord, error) {
	res, err := consumeLua.Run(ctx, s.redis,
		[]string{s.key(tokenHash)},
		string(purpose),
		strconv.FormatInt(time.Now().Unix(), 10),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingleUseRedisUnavailable, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("%w: malformed consume reply", ErrSingleUseRedisUnavailable)
	}
	status, _ := values[0].(int64)

	switch status {
	case consumeStatusOK:
		record := &SingleUseRecord{Purpose: purpose, Consumed: true}
		if len(values) > 1 {
			record.Email, _ = values[1].(string)
		}
		if len(values) > 2 {
			record.UserID, _ = values[2].(string)
		}
		return record, nil
	case consumeStatusConsumed:
		return nil, ErrSingleUseConsumed
	case consumeStatusExpired:
		return nil, ErrSingleUseExpired
	default:
		return nil, ErrSingleUseNotFound
	}
}

// Get reads a record without consuming it. Used by tests and tooling.
func (s *SingleUseStore) Get(ctx context.Context, tokenHash string) (*SingleUseRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingleUseRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrSingleUseNotFound
	}

	expiresAt, _ := strconv.ParseInt(fields["expires_at"], 10, 64)
	return &SingleUseRecord{
		Email:     fields["email"],
		UserID:    fields["user_id"],
		Purpose:   Purpose(fields["purpose"]),
		ExpiresAt: expiresAt,
		Consumed:  fields["consumed"] == "1",
	}, nil
}
