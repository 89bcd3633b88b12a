// Package cache 提供 Redis 缓存操作的封装
// 缓存只是数据库之上的加速层，永远不作为权威数据
// 所有缓存故障都在本层吞掉：读故障当作未命中，写故障只记日志
// 调用方在缓存完全失效的情况下也必须能正确工作
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ramanshu-1216/news-agent/internal/config"
	"github.com/Ramanshu-1216/news-agent/internal/model"
)

// 缓存键前缀和过期时间
// 会话摘要缓存 1 小时，聊天历史缓存 30 分钟
const (
	sessionKeyPrefix     = "session:"
	chatHistoryKeyPrefix = "chat_history:"

	SessionTTL     = time.Hour
	ChatHistoryTTL = 30 * time.Minute
)

// RedisCache 封装 Redis 客户端，提供业务相关的缓存操作
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache 创建 RedisCache 实例
// 连接超时和命令超时都设了上限，缓存卡顿不能拖住请求协程
// 参数:
//   - cfg: 应用配置（包含 Redis 连接信息）
//
// 返回:
//   - *RedisCache: 缓存实例
//   - error: 连接错误
func NewRedisCache(cfg *config.Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping 检查 Redis 连接
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// ==================== 通用方法 ====================
// 操作 JSON 序列化后的不透明载荷

// Set 写入缓存
// 写失败只记日志，返回的错误仅供调用方降级为失效处理
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[WARN] 缓存序列化失败 key=%s: %v", key, err)
		return err
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Printf("[WARN] 缓存写入失败 key=%s: %v", key, err)
		return err
	}
	return nil
}

// GetJSON 读取缓存并反序列化到 dest
// 任何失败（连接错误、键不存在、载荷损坏）都当作未命中
// 返回:
//   - bool: 是否命中
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[WARN] 缓存读取失败 key=%s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		log.Printf("[WARN] 缓存载荷损坏 key=%s: %v", key, err)
		return false
	}
	return true
}

// Delete 删除缓存键，失败只记日志
func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.Printf("[WARN] 缓存删除失败 key=%s: %v", key, err)
	}
}

// Exists 检查键是否存在，出错时返回 false
func (c *RedisCache) Exists(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		log.Printf("[WARN] 缓存查询失败 key=%s: %v", key, err)
		return false
	}
	return n > 0
}

// ==================== 会话摘要缓存 ====================

// CacheSession 缓存会话摘要，TTL 1 小时
func (c *RedisCache) CacheSession(ctx context.Context, info *model.SessionInfo) error {
	return c.Set(ctx, sessionKeyPrefix+info.ID, info, SessionTTL)
}

// GetCachedSession 读取缓存的会话摘要
// 返回:
//   - *model.SessionInfo: 命中时的摘要
//   - bool: 是否命中
func (c *RedisCache) GetCachedSession(ctx context.Context, sessionID string) (*model.SessionInfo, bool) {
	var info model.SessionInfo
	if !c.GetJSON(ctx, sessionKeyPrefix+sessionID, &info) {
		return nil, false
	}
	return &info, true
}

// InvalidateSession 使会话摘要缓存失效
func (c *RedisCache) InvalidateSession(ctx context.Context, sessionID string) {
	c.Delete(ctx, sessionKeyPrefix+sessionID)
}

// ==================== 聊天历史缓存 ====================

// CacheChatHistory 缓存会话的完整消息列表，TTL 30 分钟
func (c *RedisCache) CacheChatHistory(ctx context.Context, sessionID string, messages []model.ChatMessage) error {
	return c.Set(ctx, chatHistoryKeyPrefix+sessionID, messages, ChatHistoryTTL)
}

// GetCachedChatHistory 读取缓存的消息列表
// 返回:
//   - []model.ChatMessage: 命中时的消息列表
//   - bool: 是否命中
func (c *RedisCache) GetCachedChatHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, bool) {
	var messages []model.ChatMessage
	if !c.GetJSON(ctx, chatHistoryKeyPrefix+sessionID, &messages) {
		return nil, false
	}
	return messages, true
}

// InvalidateChatHistory 使聊天历史缓存失效
func (c *RedisCache) InvalidateChatHistory(ctx context.Context, sessionID string) {
	c.Delete(ctx, chatHistoryKeyPrefix+sessionID)
}
