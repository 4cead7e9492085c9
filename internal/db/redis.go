package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wuwenbin0122/roomchat/internal/models"
	"github.com/wuwenbin0122/roomchat/internal/utils"
)

// Redis keeps each session as a stream. XADD assigns "<ms>-<seq>" ids, which
// give both the turn id and its creation time in arrival order.
type Redis struct {
	Client *redis.Client
}

func NewRedis(ctx context.Context, cfg utils.RedisConfig) (*Redis, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis address is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{Client: client}, nil
}

func (r *Redis) Append(ctx context.Context, sessionID string, role models.Role, content string) (models.Turn, error) {
	if err := validateAppend(sessionID, role); err != nil {
		return models.Turn{}, err
	}

	id, err := r.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(sessionID),
		Values: map[string]interface{}{
			"role":    string(role),
			"content": content,
		},
	}).Result()
	if err != nil {
		return models.Turn{}, persistenceError("redis xadd", err)
	}

	createdAt, err := streamIDTime(id)
	if err != nil {
		return models.Turn{}, persistenceError("redis xadd", err)
	}

	return newStoredTurn(id, sessionID, role, content, createdAt), nil
}

func (r *Redis) ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	entries, err := r.Client.XRange(ctx, streamKey(sessionID), "-", "+").Result()
	if err != nil {
		return nil, persistenceError("redis xrange", err)
	}

	turns := make([]models.Turn, 0, len(entries))
	for _, entry := range entries {
		createdAt, err := streamIDTime(entry.ID)
		if err != nil {
			return nil, persistenceError("redis xrange", err)
		}
		role, _ := entry.Values["role"].(string)
		content, _ := entry.Values["content"].(string)
		turns = append(turns, newStoredTurn(entry.ID, sessionID, models.Role(role), content, createdAt))
	}

	return turns, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return fmt.Errorf("redis: client not initialised")
	}
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) Close(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func streamKey(sessionID string) string {
	return "chat:session:" + sessionID + ":turns"
}

func streamIDTime(id string) (time.Time, error) {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("malformed stream id %q", id)
	}
	value, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	return time.UnixMilli(value).UTC(), nil
}
