package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"retro-sync/domain"
)

// RedisHistory records when each participant was last seen on a board. It
// feeds the offline member list.
type RedisHistory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHistory creates a history whose per-board keys expire ttl after
// the last update. A zero ttl keeps them forever.
func NewRedisHistory(client *redis.Client, ttl time.Duration) *RedisHistory {
	return &RedisHistory{client: client, ttl: ttl}
}

func historyKey(boardID string) string {
	return "history:" + boardID
}

func historyNamesKey(boardID string) string {
	return "history:" + boardID + ":names"
}

// Touch records m as seen at m.LastSeen.
func (h *RedisHistory) Touch(ctx context.Context, boardID string, m domain.Member) error {
	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, historyKey(boardID), redis.Z{Score: float64(m.LastSeen), Member: m.ID})
		pipe.HSet(ctx, historyNamesKey(boardID), m.ID, m.Name)
		if h.ttl > 0 {
			pipe.Expire(ctx, historyKey(boardID), h.ttl)
			pipe.Expire(ctx, historyNamesKey(boardID), h.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: touch history %s: %w", boardID, err)
	}
	return nil
}

// Recent returns up to limit members, most recently seen first.
func (h *RedisHistory) Recent(ctx context.Context, boardID string, limit int) ([]domain.Member, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := h.client.ZRevRangeWithScores(ctx, historyKey(boardID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read history %s: %w", boardID, err)
	}
	if len(entries) == 0 {
		return []domain.Member{}, nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i], _ = e.Member.(string)
	}
	names, err := h.client.HMGet(ctx, historyNamesKey(boardID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read history names %s: %w", boardID, err)
	}
	out := make([]domain.Member, 0, len(entries))
	for i, e := range entries {
		name, _ := names[i].(string)
		out = append(out, domain.Member{ID: ids[i], Name: name, LastSeen: int64(e.Score)})
	}
	return out, nil
}
