package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"store_audit_backend/internal/model"
	"store_audit_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	catalogSectionsKey   = "audit:catalog:sections"
	catalogQuestionsKey  = "audit:catalog:questions"
	catalogGenerationKey = "audit:catalog:gen"
)

// errStaleGeneration 读库期间缓存已失效，丢弃这次回填
var errStaleGeneration = errors.New("catalog cache generation changed")

// CatalogCache 分区/题目的读穿缓存。任何分区或题目的写操作都必须调用 Invalidate。
//
// 每次 Invalidate 代数加一。读者在查库前取 Generation，回填时带上该代数，
// 代数已变化则不写入，避免把失效前读到的旧数据写回缓存。
type CatalogCache interface {
	// Generation 读取失败时 ok 为 false，调用方不应回填
	Generation(ctx context.Context) (gen int64, ok bool)
	Sections(ctx context.Context) ([]model.Section, bool)
	SetSections(ctx context.Context, gen int64, sections []model.Section)
	Questions(ctx context.Context) ([]model.Question, bool)
	SetQuestions(ctx context.Context, gen int64, questions []model.Question)
	Invalidate(ctx context.Context)
}

// RedisCatalogCache 多实例部署时共享的缓存
type RedisCatalogCache struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewRedisCatalogCache(rdb *redis.Client, ttl time.Duration) *RedisCatalogCache {
	return &RedisCatalogCache{Redis: rdb, TTL: ttl}
}

func (c *RedisCatalogCache) get(ctx context.Context, key string, dst interface{}) bool {
	val, err := c.Redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		logger.Log.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(val, dst); err != nil {
		logger.Log.Warn("catalog cache entry corrupted", zap.String("key", key), zap.Error(err))
		c.Redis.Del(ctx, key)
		return false
	}
	return true
}

func (c *RedisCatalogCache) Generation(ctx context.Context) (int64, bool) {
	gen, err := c.Redis.Get(ctx, catalogGenerationKey).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		logger.Log.Warn("catalog cache generation read failed", zap.Error(err))
		return 0, false
	}
	return gen, true
}

// set 在 WATCH 代数键的事务里写入，期间发生 Invalidate 则 EXEC 失败
func (c *RedisCatalogCache) set(ctx context.Context, gen int64, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	err = c.Redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, catalogGenerationKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.TTL)
			return nil
		})
		return err
	}, catalogGenerationKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		logger.Log.Debug("catalog cache fill skipped, invalidated meanwhile", zap.String("key", key))
	default:
		logger.Log.Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *RedisCatalogCache) Sections(ctx context.Context) ([]model.Section, bool) {
	var out []model.Section
	ok := c.get(ctx, catalogSectionsKey, &out)
	return out, ok
}

func (c *RedisCatalogCache) SetSections(ctx context.Context, gen int64, sections []model.Section) {
	c.set(ctx, gen, catalogSectionsKey, sections)
}

func (c *RedisCatalogCache) Questions(ctx context.Context) ([]model.Question, bool) {
	var out []model.Question
	ok := c.get(ctx, catalogQuestionsKey, &out)
	return out, ok
}

func (c *RedisCatalogCache) SetQuestions(ctx context.Context, gen int64, questions []model.Question) {
	c.set(ctx, gen, catalogQuestionsKey, questions)
}

// Invalidate 先加代数再删除，两步在同一个 MULTI 中执行
func (c *RedisCatalogCache) Invalidate(ctx context.Context) {
	_, err := c.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, catalogGenerationKey)
		pipe.Del(ctx, catalogSectionsKey, catalogQuestionsKey)
		return nil
	})
	if err != nil {
		logger.Log.Error("catalog cache invalidation failed", zap.Error(err))
	}
}

// MemoryCatalogCache 单实例或未启用 Redis 时使用。mu 保证代数比较与写入是原子的
type MemoryCatalogCache struct {
	mu    sync.Mutex
	gen   int64
	store *gocache.Cache
}

func NewMemoryCatalogCache(ttl time.Duration) *MemoryCatalogCache {
	return &MemoryCatalogCache{store: gocache.New(ttl, 2*ttl)}
}

func (c *MemoryCatalogCache) Generation(ctx context.Context) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, true
}

func (c *MemoryCatalogCache) Sections(ctx context.Context) ([]model.Section, bool) {
	v, ok := c.store.Get(catalogSectionsKey)
	if !ok {
		return nil, false
	}
	return append([]model.Section(nil), v.([]model.Section)...), true
}

func (c *MemoryCatalogCache) setIfCurrent(gen int64, key string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		logger.Log.Debug("catalog cache fill skipped, invalidated meanwhile", zap.String("key", key))
		return
	}
	c.store.SetDefault(key, v)
}

func (c *MemoryCatalogCache) SetSections(ctx context.Context, gen int64, sections []model.Section) {
	c.setIfCurrent(gen, catalogSectionsKey, append([]model.Section(nil), sections...))
}

func (c *MemoryCatalogCache) Questions(ctx context.Context) ([]model.Question, bool) {
	v, ok := c.store.Get(catalogQuestionsKey)
	if !ok {
		return nil, false
	}
	return append([]model.Question(nil), v.([]model.Question)...), true
}

func (c *MemoryCatalogCache) SetQuestions(ctx context.Context, gen int64, questions []model.Question) {
	c.setIfCurrent(gen, catalogQuestionsKey, append([]model.Question(nil), questions...))
}

func (c *MemoryCatalogCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.store.Delete(catalogSectionsKey)
	c.store.Delete(catalogQuestionsKey)
}
