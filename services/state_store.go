package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trencher/engine"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const stateTTL = 2 * time.Hour

// StateStore mirrors session summaries into redis so late-attaching
// clients and list reads survive a hub restart without touching the
// actors. It implements engine.SnapshotSink.
type StateStore struct {
	redis *redis.Client
}

func NewStateStore(rdb *redis.Client) *StateStore {
	return &StateStore{redis: rdb}
}

func (s *StateStore) key(code string) string {
	return "game:" + code
}

func (s *StateStore) Put(sum engine.Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(sum)
	if err != nil {
		log.Error().Err(err).Str("code", sum.Code).Msg("marshal game state")
		return
	}
	if err := s.redis.Set(ctx, s.key(sum.Code), data, stateTTL).Err(); err != nil {
		log.Warn().Err(err).Str("code", sum.Code).Msg("store game state")
	}
}

func (s *StateStore) Delete(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.redis.Del(ctx, s.key(code)).Err(); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("delete game state")
	}
}

// Get reads a mirrored summary back.
func (s *StateStore) Get(ctx context.Context, code string) (*engine.Summary, error) {
	data, err := s.redis.Get(ctx, s.key(code)).Result()
	if err == redis.Nil {
		return nil, engine.NotFoundf("game %s not found", code)
	}
	if err != nil {
		return nil, fmt.Errorf("get game state: %w", err)
	}

	var sum engine.Summary
	if err := json.Unmarshal([]byte(data), &sum); err != nil {
		return nil, fmt.Errorf("unmarshal game state: %w", err)
	}
	return &sum, nil
}
