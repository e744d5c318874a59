// Package redisstore keeps chat history in capped Redis lists.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/redis/go-redis/v9"
)

type HistoryStore struct {
	Redis *redis.Client
	limit int64
}

// Open connects and pings before returning.
func Open(ctx context.Context, addr, password string, db, limit int) (*HistoryStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect redis at %s: %w", addr, err)
	}
	return New(rdb, limit), nil
}

func New(rdb *redis.Client, limit int) *HistoryStore {
	if limit <= 0 {
		limit = 500
	}
	return &HistoryStore{Redis: rdb, limit: int64(limit)}
}

func historyKey(room domain.RoomID) string { return "chat:history:" + string(room) }

func (h *HistoryStore) Append(ctx context.Context, msg domain.ChatMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := historyKey(msg.RoomID)
	pipe := h.Redis.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.LTrim(ctx, key, -h.limit, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (h *HistoryStore) Recent(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	n := int64(limit)
	if n <= 0 || n > h.limit {
		n = h.limit
	}
	raw, err := h.Redis.LRange(ctx, historyKey(room), -n, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChatMessage, 0, len(raw))
	for _, s := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(s), &msg); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (h *HistoryStore) Close() error { return h.Redis.Close() }
