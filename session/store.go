package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned when no record exists for a session id,
// either because it was revoked or because its TTL lapsed.
var ErrSessionNotFound = errors.New("refresh session not found")

// ErrJTIMismatch is returned by Rotate when the stored jti does not equal
// the presented one. The caller must treat this as refresh-token reuse.
var ErrJTIMismatch = errors.New("refresh jti mismatch")

// ErrRedisUnavailable wraps any Redis transport failure. The refresh path
// fails closed on it.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusMismatch int64 = 1
	rotateStatusRotated  int64 = 2
)

// rotateScript swaps the stored jti only if it still equals the presented
// one, re-applying the full TTL. Doing the compare-and-swap inside Redis
// closes the read-then-write race between two concurrent refresh calls:
// exactly one wins, the other observes a mismatch.
const rotateScript = `
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local rec = cjson.decode(raw)
if rec.jti ~= ARGV[1] then
  return 1
end
rec.jti = ARGV[2]
redis.call("SET", KEYS[1], cjson.encode(rec), "EX", tonumber(ARGV[3]))
return 2
`

var rotateLua = redis.NewScript(rotateScript)

// Record is the per-session state persisted in Redis. JTI is the id of the
// one currently valid refresh token for this session.
type Record struct {
	UserID    int64  `json:"user_id"`
	JTI       string `json:"jti"`
	CreatedAt int64  `json:"created_at"`
}

// Store manages refresh session records in Redis. Records self-expire via
// TTL, so no sweep job is needed.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewStore creates a Store whose records live under prefix and expire after
// ttl (the refresh-token lifetime).
func NewStore(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "rt"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Create generates a fresh session id and jti and persists the record with
// the full refresh TTL.
func (s *Store) Create(ctx context.Context, userID int64) (sessionID, jti string, err error) {
	sessionID = uuid.NewString()
	jti = uuid.NewString()

	record := Record{
		UserID:    userID,
		JTI:       jti,
		CreatedAt: time.Now().Unix(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", "", err
	}

	if err := s.redis.Set(ctx, s.key(sessionID), raw, s.ttl).Err(); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return sessionID, jti, nil
}

// Get loads the record for a session id. Absent records return
// ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	raw, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	record := &Record{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, ErrSessionNotFound
	}
	return record, nil
}

// Rotate atomically replaces the stored jti with nextJTI, but only if the
// stored value still equals currentJTI. On success the expiry window slides:
// the full TTL is re-applied. Returns ErrSessionNotFound when no record
// exists and ErrJTIMismatch when an already-rotated-away token is presented.
func (s *Store) Rotate(ctx context.Context, sessionID, currentJTI, nextJTI string) error {
	ttlSeconds := int64(s.ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	status, err := rotateLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		currentJTI, nextJTI, ttlSeconds,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusMismatch:
		return ErrJTIMismatch
	case rotateStatusNotFound:
		return ErrSessionNotFound
	default:
		return fmt.Errorf("unexpected rotate status %d", status)
	}
}

// Revoke deletes the record unconditionally. Revoking an absent session is
// a no-op.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}
