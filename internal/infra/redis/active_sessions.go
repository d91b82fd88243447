package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"versus-quiz-service/internal/domain"
)

// Bindings are stored as: HSET versus:active:{playerID} sessionId .. opponentSpecId .. createdAt {unix ms}
// Every mutation runs as a script so check-and-set is atomic across instances.
var (
	reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'sessionId', ARGV[1], 'opponentSpecId', ARGV[2], 'createdAt', ARGV[3])
  if tonumber(ARGV[4]) > 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[4])
  end
end
return redis.call('HGETALL', KEYS[1])
`)
	clearScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'sessionId') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
	takeScript = redis.NewScript(`
local binding = redis.call('HGETALL', KEYS[1])
if #binding > 0 then
  redis.call('DEL', KEYS[1])
end
return binding
`)
)

// ActiveSessions is a Redis implementation of app.ActiveSessionRegistry. A TTL
// bounds how long a binding survives a crashed instance.
type ActiveSessions struct {
	client *redis.Client
	ttl    time.Duration
}

func NewActiveSessions(client *redis.Client, ttl time.Duration) *ActiveSessions {
	return &ActiveSessions{client: client, ttl: ttl}
}

func (a *ActiveSessions) Get(ctx context.Context, playerID string) (domain.ActiveSessionBinding, bool, error) {
	fields, err := a.client.HGetAll(ctx, a.key(playerID)).Result()
	if err != nil {
		return domain.ActiveSessionBinding{}, false, err
	}
	if len(fields) == 0 {
		return domain.ActiveSessionBinding{}, false, nil
	}
	return bindingFromFields(fields), true, nil
}

func (a *ActiveSessions) GetOrReserve(ctx context.Context, playerID string, candidate domain.ActiveSessionBinding) (domain.ActiveSessionBinding, error) {
	raw, err := reserveScript.Run(ctx, a.client, []string{a.key(playerID)},
		candidate.SessionID,
		candidate.OpponentSpecID,
		candidate.CreatedAt.UnixMilli(),
		a.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return domain.ActiveSessionBinding{}, fmt.Errorf("reserve binding: %w", err)
	}
	return bindingFromFields(pairs(raw)), nil
}

func (a *ActiveSessions) Clear(ctx context.Context, playerID, sessionID string) error {
	return clearScript.Run(ctx, a.client, []string{a.key(playerID)}, sessionID).Err()
}

func (a *ActiveSessions) TakeByOwner(ctx context.Context, playerID string) (domain.ActiveSessionBinding, bool, error) {
	raw, err := takeScript.Run(ctx, a.client, []string{a.key(playerID)}).Slice()
	if err != nil {
		return domain.ActiveSessionBinding{}, false, fmt.Errorf("take binding: %w", err)
	}
	if len(raw) == 0 {
		return domain.ActiveSessionBinding{}, false, nil
	}
	return bindingFromFields(pairs(raw)), true, nil
}

func (a *ActiveSessions) key(playerID string) string {
	return "versus:active:" + playerID
}

func pairs(raw []interface{}) map[string]string {
	out := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		k, _ := raw[i].(string)
		v, _ := raw[i+1].(string)
		out[k] = v
	}
	return out
}

func bindingFromFields(fields map[string]string) domain.ActiveSessionBinding {
	b := domain.ActiveSessionBinding{
		SessionID:      fields["sessionId"],
		OpponentSpecID: fields["opponentSpecId"],
	}
	if ms, err := strconv.ParseInt(fields["createdAt"], 10, 64); err == nil {
		b.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return b
}
