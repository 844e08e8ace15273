package cache

import (
	"context"
	"fmt"
	"time"

	"FeiLiu/logger"

	"github.com/redis/go-redis/v9"
)

// 分片缓存的默认过期时间
// 播放列表在转码期间不断变化，缓存时间必须短于分片
const (
	SegmentTTL  = 10 * time.Minute
	PlaylistTTL = 2 * time.Second
)

// SegmentKey 生成分片缓存键
func SegmentKey(streamID, fileName string) string {
	return fmt.Sprintf("stream:%s:%s", streamID, fileName)
}

// SetSegmentCache 设置分片缓存
func SetSegmentCache(key string, data []byte, expiration time.Duration) error {
	if RedisClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := RedisClient.Set(ctx, key, data, expiration).Err(); err != nil {
		logger.Error("设置分片缓存失败",
			logger.String("key", key),
			logger.Int("dataSize", len(data)),
			logger.ErrorField(err))
		return err
	}

	logger.Debug("分片缓存设置成功",
		logger.String("key", key),
		logger.Int("dataSize", len(data)))
	return nil
}

// GetSegmentCache 获取分片缓存
// 缓存未命中或Redis故障时返回 (nil, nil)，调用方回退到磁盘。
func GetSegmentCache(key string) ([]byte, error) {
	if RedisClient == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := RedisClient.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		logger.Warn("获取分片缓存失败，回退到磁盘",
			logger.String("key", key),
			logger.ErrorField(err))
		return nil, nil
	}
	return data, nil
}

// DeleteStreamCache 删除一个会话的全部分片缓存
func DeleteStreamCache(streamID string) error {
	if RedisClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pattern := fmt.Sprintf("stream:%s:*", streamID)
	keys, err := RedisClient.Keys(ctx, pattern).Result()
	if err != nil {
		logger.Error("查找缓存键失败",
			logger.String("pattern", pattern),
			logger.ErrorField(err))
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	if err := RedisClient.Del(ctx, keys...).Err(); err != nil {
		logger.Error("批量删除分片缓存失败",
			logger.String("pattern", pattern),
			logger.ErrorField(err))
		return err
	}

	logger.Debug("会话分片缓存已清理",
		logger.String("streamId", streamID),
		logger.Int("keys", len(keys)))
	return nil
}
