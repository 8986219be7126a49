// Package repo stores conversation threads.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/rfi-assistant/server/internal/agent/model"
	errx "github.com/rfi-assistant/server/internal/core/error"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

const (
	fieldSummary   = "summary"
	fieldPreview   = "preview"
	fieldRewrites  = "previous_rewrites"
	fieldUpdatedAt = "updated_at"
)

// RedisThreadRepository keeps messages in a list and thread metadata in a
// hash. Both keys share the thread TTL, refreshed on every save.
type RedisThreadRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisThreadRepository(rdb redis.Cmdable, ttl time.Duration) *RedisThreadRepository {
	return &RedisThreadRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisThreadRepository) messagesKey(threadID string) string {
	return fmt.Sprintf("thread:%s:messages", threadID)
}

func (r *RedisThreadRepository) metaKey(threadID string) string {
	return fmt.Sprintf("thread:%s:meta", threadID)
}

func (r *RedisThreadRepository) Load(ctx context.Context, threadID string) (*model.Thread, error) {
	thread := &model.Thread{ID: threadID, Messages: []*schema.Message{}}

	key := r.messagesKey(threadID)
	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && err != redis.Nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to load thread messages from redis")
		return nil, errx.WrapRedis(err)
	}
	for i, s := range rows {
		var m schema.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("thread_id", threadID).Int("index", i).Msg("failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		thread.Messages = append(thread.Messages, &m)
	}

	metaKey := r.metaKey(threadID)
	meta, err := r.rdb.HGetAll(ctx, metaKey).Result()
	if err != nil && err != redis.Nil {
		logx.Error().Err(err).Str("key", metaKey).Msg("failed to load thread metadata from redis")
		return nil, errx.WrapRedis(err)
	}
	thread.Summary = meta[fieldSummary]
	thread.Preview = meta[fieldPreview]
	if raw := meta[fieldRewrites]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &thread.PreviousRewrites); err != nil {
			return nil, fmt.Errorf("unmarshal previous rewrites: %w", err)
		}
	}
	if raw := meta[fieldUpdatedAt]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			thread.UpdatedAt = t
		}
	}
	return thread, nil
}

func (r *RedisThreadRepository) Save(ctx context.Context, thread *model.Thread) error {
	if thread == nil || thread.ID == "" {
		return fmt.Errorf("thread id is required")
	}

	msgs := make([]any, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		if m == nil {
			continue
		}
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		msgs = append(msgs, b)
	}
	rewrites, err := json.Marshal(thread.PreviousRewrites)
	if err != nil {
		return fmt.Errorf("marshal previous rewrites: %w", err)
	}

	key := r.messagesKey(thread.ID)
	metaKey := r.metaKey(thread.ID)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if len(msgs) > 0 {
			p.RPush(ctx, key, msgs...)
		}
		p.HSet(ctx, metaKey,
			fieldSummary, thread.Summary,
			fieldPreview, thread.Preview,
			fieldRewrites, string(rewrites),
			fieldUpdatedAt, thread.UpdatedAt.Format(time.RFC3339Nano),
		)
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
			p.Expire(ctx, metaKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("thread_id", thread.ID).Msg("failed to save thread to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisThreadRepository) Delete(ctx context.Context, threadID string) error {
	if err := r.rdb.Del(ctx, r.messagesKey(threadID), r.metaKey(threadID)).Err(); err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Msg("failed to delete thread from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.ThreadRepository = (*RedisThreadRepository)(nil)
