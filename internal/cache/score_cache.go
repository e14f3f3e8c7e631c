package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScoreCache 缓存外部打分结果，相同的题目与回答不重复调用模型
type ScoreCache interface {
	// Get 未命中时返回 ok=false 且 err=nil
	Get(ctx context.Context, model, question, answer string) (score int, ok bool, err error)
	Set(ctx context.Context, model, question, answer string, score int) error
}

type redisScoreCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisScoreCache 基于 Redis 的打分缓存，ttl 为 0 表示不过期
func NewRedisScoreCache(client *redis.Client, ttl time.Duration) ScoreCache {
	return &redisScoreCache{
		client: client,
		ttl:    ttl,
	}
}

// ScoreKey 生成缓存键：模型名 + 题目与回答的摘要
func ScoreKey(model, question, answer string) string {
	h := sha256.New()
	h.Write([]byte(question))
	h.Write([]byte{0})
	h.Write([]byte(answer))
	return fmt.Sprintf("quickscan:score:%s:%s", model, hex.EncodeToString(h.Sum(nil)))
}

func (c *redisScoreCache) Get(ctx context.Context, model, question, answer string) (int, bool, error) {
	data, err := c.client.Get(ctx, ScoreKey(model, question, answer)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	score, err := strconv.Atoi(data)
	if err != nil {
		return 0, false, fmt.Errorf("缓存值无效 %q: %w", data, err)
	}
	return score, true, nil
}

func (c *redisScoreCache) Set(ctx context.Context, model, question, answer string, score int) error {
	return c.client.Set(ctx, ScoreKey(model, question, answer), strconv.Itoa(score), c.ttl).Err()
}

type nopScoreCache struct{}

// NewNopScoreCache 不缓存任何内容
func NewNopScoreCache() ScoreCache {
	return nopScoreCache{}
}

func (nopScoreCache) Get(context.Context, string, string, string) (int, bool, error) {
	return 0, false, nil
}

func (nopScoreCache) Set(context.Context, string, string, string, int) error {
	return nil
}
