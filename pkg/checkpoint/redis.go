package checkpoint

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	fieldMessage = "last_message_id"
	fieldEvent   = "last_event_id"
)

// advanceScript raises each hash field to the given value, never lowering it.
var advanceScript = redis.NewScript(`
for i = 1, 2 do
	local field = ARGV[i * 2 - 1]
	local value = tonumber(ARGV[i * 2])
	local current = tonumber(redis.call('HGET', KEYS[1], field) or '0')
	if value > current then
		redis.call('HSET', KEYS[1], field, value)
	end
end
return 1
`)

// Redis stores checkpoints in one hash per user.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "chat:checkpoint:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(userID string) string {
	return r.prefix + userID
}

func (r *Redis) Load(ctx context.Context, userID string) (Checkpoints, error) {
	vals, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return Checkpoints{}, fmt.Errorf("load checkpoint for %s: %w", userID, err)
	}
	var cp Checkpoints
	if cp.LastMessageID, err = parseField(vals, fieldMessage); err != nil {
		return Checkpoints{}, err
	}
	if cp.LastEventID, err = parseField(vals, fieldEvent); err != nil {
		return Checkpoints{}, err
	}
	return cp, nil
}

func parseField(vals map[string]string, field string) (int64, error) {
	v, ok := vals[field]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("checkpoint field %s: %w", field, err)
	}
	return n, nil
}

func (r *Redis) Save(ctx context.Context, userID string, cp Checkpoints) error {
	err := advanceScript.Run(ctx, r.client, []string{r.key(userID)},
		fieldMessage, cp.LastMessageID, fieldEvent, cp.LastEventID).Err()
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", userID, err)
	}
	return nil
}
