package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"ragdesk/backend/go/pkg/util"

	"github.com/go-redis/redis/v8"
)

// Cache 存储已经计算过的嵌入向量。
type Cache interface {
	// GetMany 返回与 keys 一一对应的向量，未命中的位置为 nil。
	GetMany(ctx context.Context, keys []string) ([][]float32, error)
	// SetMany 写入多条向量。
	SetMany(ctx context.Context, keys []string, vectors [][]float32) error
}

// CachedModel 在 Embedding 之上增加一层缓存，只为未命中的文本调用底层模型。
// 缓存读写失败时直接回退到底层模型，不会让调用失败。
type CachedModel struct {
	inner Embedding
	cache Cache
}

// NewCached 使用 cache 包装 inner。
func NewCached(inner Embedding, cache Cache) *CachedModel {
	return &CachedModel{inner: inner, cache: cache}
}

// ModelName 返回底层模型的名称。
func (c *CachedModel) ModelName() string { return c.inner.ModelName() }

// Embed 为单个文本生成嵌入向量。
func (c *CachedModel) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch 为一批文本生成嵌入向量，命中缓存的文本不会再次计算。
func (c *CachedModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = CacheKey(c.inner.ModelName(), t)
	}

	out, err := c.cache.GetMany(ctx, keys)
	if err != nil || len(out) != len(texts) {
		out = make([][]float32, len(texts))
	}

	var missIdx []int
	var missTexts []string
	for i := range texts {
		if out[i] == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	computed, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(computed) != len(missTexts) {
		return nil, fmt.Errorf("embedding model returned %d vectors for %d inputs", len(computed), len(missTexts))
	}

	missKeys := make([]string, len(missIdx))
	for j, i := range missIdx {
		out[i] = computed[j]
		missKeys[j] = keys[i]
	}
	_ = c.cache.SetMany(ctx, missKeys, computed)
	return out, nil
}

// CacheKey 返回 (模型, 文本) 对应的缓存键。
func CacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache 是基于进程内 LRU 的缓存实现。
type MemoryCache struct {
	lru *util.LRU[string, []float32]
}

// NewMemoryCache 创建一个最多保存 capacity 条向量的内存缓存。
func NewMemoryCache(capacity int, ttl time.Duration) (*MemoryCache, error) {
	lru, err := util.NewLRU[string, []float32](util.LRUConfig{Capacity: capacity, TTL: ttl})
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: lru}, nil
}

// GetMany 实现 Cache 接口。
func (m *MemoryCache) GetMany(_ context.Context, keys []string) ([][]float32, error) {
	out := make([][]float32, len(keys))
	for i, k := range keys {
		if v, ok := m.lru.Get(k); ok {
			out[i] = v
		}
	}
	return out, nil
}

// SetMany 实现 Cache 接口。
func (m *MemoryCache) SetMany(_ context.Context, keys []string, vectors [][]float32) error {
	for i, k := range keys {
		m.lru.Put(k, vectors[i])
	}
	return nil
}

// RedisCache 是基于 Redis 的缓存实现，可在多个实例之间共享。
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache 创建一个 Redis 缓存，ttl 为 0 表示永不过期。
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "ragdesk:emb:", ttl: ttl}
}

// GetMany 使用 MGET 一次读取所有键。
func (r *RedisCache) GetMany(ctx context.Context, keys []string) ([][]float32, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([][]float32, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if vec, err := DecodeVector([]byte(s)); err == nil {
			out[i] = vec
		}
	}
	return out, nil
}

// SetMany 使用 pipeline 批量写入。
func (r *RedisCache) SetMany(ctx context.Context, keys []string, vectors [][]float32) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			pipe.Set(ctx, r.prefix+k, EncodeVector(vectors[i]), r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline set: %w", err)
	}
	return nil
}

// EncodeVector 把向量编码为小端 float32 字节序列。
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector 是 EncodeVector 的逆操作。
func DecodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid vector encoding: %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
