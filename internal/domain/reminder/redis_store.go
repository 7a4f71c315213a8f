package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStateTTL bounds how long a day's slot state is kept.
const DefaultStateTTL = 14 * 24 * time.Hour

// RedisStateStore keeps slot state in one Redis hash per user and day.
type RedisStateStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStateStore creates a state store. A non-positive ttl uses
// DefaultStateTTL.
func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStateStore{redis: client, ttl: ttl}
}

func (s *RedisStateStore) key(userID string, date time.Time) string {
	return fmt.Sprintf("reminders:state:%s:%s", userID, date.Format(DateLayout))
}

// Load returns the saved state for every slot on date. Entries that fail to
// decode are skipped.
func (s *RedisStateStore) Load(ctx context.Context, userID string, date time.Time) (map[SlotID]SlotState, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(userID, date)).Result()
	if err == redis.Nil {
		return map[SlotID]SlotState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load slot state: %w", err)
	}

	out := make(map[SlotID]SlotState, len(fields))
	for id, raw := range fields {
		var st SlotState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			continue
		}
		out[SlotID(id)] = st
	}
	return out, nil
}

// Save stores state for the slot and refreshes the day's expiry.
func (s *RedisStateStore) Save(ctx context.Context, userID string, id SlotID, state SlotState) error {
	date, _, err := ParseSlotID(id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal slot state: %w", err)
	}

	key := s.key(userID, date)
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, string(id), data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save slot state: %w", err)
	}
	return nil
}
