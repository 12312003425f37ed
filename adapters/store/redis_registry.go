package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/ports"
)

// defaultRedisPrefix is a hash tag so that every registry key maps to one
// cluster slot; revokeAllScript and deleteExpiredScript build keys from ARGV.
const defaultRedisPrefix = "{turnstile}:"

// Each session lives in a hash at <prefix>session:<id>; the owner's ids are kept
// in a set at <prefix>owner:<ownerID> and every id is scored by expiry in <prefix>expiry.
var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'owner', ARGV[2], 'hash', ARGV[3], 'expires_at', ARGV[4], 'created_at', ARGV[5], 'revoked', '0')
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
return 1
`)

	markRevokedScript = redis.NewScript(`
local revoked = redis.call('HGET', KEYS[1], 'revoked')
if not revoked then
  return -1
end
if revoked == '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'revoked', '1')
return 1
`)

	revokeAllScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call('HGET', key, 'revoked') == '0' then
    redis.call('HSET', key, 'revoked', '1')
    n = n + 1
  end
end
return n
`)

	deleteExpiredScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
  local key = ARGV[2] .. 'session:' .. id
  local owner = redis.call('HGET', key, 'owner')
  if owner then
    redis.call('SREM', ARGV[2] .. 'owner:' .. owner, id)
  end
  redis.call('DEL', key)
  redis.call('ZREM', KEYS[1], id)
end
return #ids
`)
)

// RedisRegistry is a Redis implementation of ports.SessionRegistry.
// Mutations run as Lua scripts so each one is atomic on the server.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRegistry creates a new Redis-backed session registry
func NewRedisRegistry(client redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{
		client: client,
		prefix: defaultRedisPrefix,
	}
}

// WithPrefix returns a copy of the registry that namespaces keys under prefix.
// On Redis Cluster the prefix must contain a hash tag such as "{sessions}:".
func (s *RedisRegistry) WithPrefix(prefix string) *RedisRegistry {
	return &RedisRegistry{client: s.client, prefix: prefix}
}

var _ ports.SessionRegistry = (*RedisRegistry)(nil)

func (s *RedisRegistry) sessionKey(id string) string { return s.prefix + "session:" + id }
func (s *RedisRegistry) ownerKey(owner string) string { return s.prefix + "owner:" + owner }
func (s *RedisRegistry) expiryKey() string            { return s.prefix + "expiry" }

// Create stores a new record
func (s *RedisRegistry) Create(ctx context.Context, rec *core.SessionRecord) error {
	keys := []string{s.sessionKey(rec.ID), s.ownerKey(rec.OwnerID), s.expiryKey()}
	created, err := createScript.Run(ctx, s.client, keys,
		rec.ID,
		rec.OwnerID,
		rec.SecretHash,
		strconv.FormatInt(rec.ExpiresAt.UnixNano(), 10),
		strconv.FormatInt(rec.CreatedAt.UnixNano(), 10),
		rec.ExpiresAt.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("session %s already exists", rec.ID)
	}

	return nil
}

// FindByID loads the record hash
func (s *RedisRegistry) FindByID(ctx context.Context, id string) (*core.SessionRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrSessionNotFound
	}

	return decodeRedisRecord(id, fields)
}

// MarkRevoked flips the revoked field if it is still "0"
func (s *RedisRegistry) MarkRevoked(ctx context.Context, id string) (bool, error) {
	res, err := markRevokedScript.Run(ctx, s.client, []string{s.sessionKey(id)}).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}

	switch res {
	case -1:
		return false, core.ErrSessionNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// RevokeAllByOwner revokes every non-revoked record in the owner's set
func (s *RedisRegistry) RevokeAllByOwner(ctx context.Context, ownerID string) (int, error) {
	n, err := revokeAllScript.Run(ctx, s.client, []string{s.ownerKey(ownerID)}, s.prefix+"session:").Int()
	if err != nil {
		return 0, fmt.Errorf("failed to revoke owner sessions: %w", err)
	}

	return n, nil
}

// DeleteExpired removes records whose expiry score is strictly below now
func (s *RedisRegistry) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := deleteExpiredScript.Run(ctx, s.client, []string{s.expiryKey()}, now.UnixMilli(), s.prefix).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	return n, nil
}

// ListActiveByOwner fetches the owner's records in one pipeline and keeps the active ones
func (s *RedisRegistry) ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]core.SessionRecord, error) {
	ids, err := s.client.SMembers(ctx, s.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list owner sessions: %w", err)
	}
	if len(ids) == 0 {
		return []core.SessionRecord{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load owner sessions: %w", err)
	}

	out := make([]core.SessionRecord, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRedisRecord(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if rec.Active(now) {
			out = append(out, *rec)
		}
	}
	sortNewestFirst(out)

	return out, nil
}

func decodeRedisRecord(id string, fields map[string]string) (*core.SessionRecord, error) {
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session %s: bad expires_at: %w", id, err)
	}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session %s: bad created_at: %w", id, err)
	}

	return &core.SessionRecord{
		ID:         id,
		SecretHash: fields["hash"],
		OwnerID:    fields["owner"],
		ExpiresAt:  time.Unix(0, expires).UTC(),
		Revoked:    fields["revoked"] == "1",
		CreatedAt:  time.Unix(0, created).UTC(),
	}, nil
}
