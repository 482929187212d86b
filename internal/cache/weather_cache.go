package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"esp-gateway/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SnapshotTTL 天气快照有效期
const SnapshotTTL = 60 * time.Minute

// accessKeyTTL 访问密钥有效期
const accessKeyTTL = 180 * 24 * time.Hour

// WeatherCache 天气快照与设备同步标记的 Redis 缓存。
// 所有读操作在 Redis 不可达时都退化为 "缓存未命中 / 需要同步"，
// 不向调用方抛错误。
type WeatherCache struct {
	client   *redis.Client
	location string
	logger   *zap.Logger
}

// NewWeatherCache 创建缓存
func NewWeatherCache(client *redis.Client, location string, logger *zap.Logger) *WeatherCache {
	return &WeatherCache{
		client:   client,
		location: location,
		logger:   logger,
	}
}

func (c *WeatherCache) snapshotKey() string {
	return "weather:" + c.location
}

func apiCallsKey(now time.Time) string {
	// 键本身编码日期，日界自动归零
	return "api_calls:" + now.Format("2006-01-02")
}

func timeSyncKey(deviceID string) string {
	return "time_sync:last:" + deviceID
}

func accessKeyKey(key string) string {
	return "access_key:" + key
}

// GetSnapshot 读取缓存的天气快照，未命中或出错返回 nil
func (c *WeatherCache) GetSnapshot(ctx context.Context) *models.WeatherSnapshot {
	data, err := c.client.Get(ctx, c.snapshotKey()).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Failed to read weather snapshot from cache", zap.Error(err))
		}
		return nil
	}

	var snap models.WeatherSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		c.logger.Warn("Corrupt weather snapshot in cache", zap.Error(err))
		return nil
	}
	return &snap
}

// SaveSnapshot 写入快照（60 分钟 TTL）并递增当日 API 调用计数
func (c *WeatherCache) SaveSnapshot(ctx context.Context, snap *models.WeatherSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal weather snapshot: %w", err)
	}

	if err := c.client.Set(ctx, c.snapshotKey(), data, SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to save weather snapshot: %w", err)
	}

	if err := c.client.Incr(ctx, apiCallsKey(time.Now())).Err(); err != nil {
		c.logger.Warn("Failed to increment api call counter", zap.Error(err))
	}
	return nil
}

// CallsToday 当日外部 API 调用次数（出错按 0 处理）
func (c *WeatherCache) CallsToday(ctx context.Context) int {
	val, err := c.client.Get(ctx, apiCallsKey(time.Now())).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Failed to read api call counter", zap.Error(err))
		}
		return 0
	}
	calls, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return calls
}

// ShouldSyncTime 是否需要对设备做时间同步。
// 没有记录、记录过期或 Redis 不可达都视为需要同步。
func (c *WeatherCache) ShouldSyncTime(ctx context.Context, deviceID string, intervalDays int) bool {
	val, err := c.client.Get(ctx, timeSyncKey(deviceID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Failed to read time sync marker, assuming sync required",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		} else {
			c.logger.Info("Device has never synced time", zap.String("device_id", deviceID))
		}
		return true
	}

	lastSync, err := strconv.ParseFloat(val, 64)
	if err != nil {
		c.logger.Warn("Corrupt time sync marker, assuming sync required",
			zap.String("device_id", deviceID),
		)
		return true
	}

	sinceSync := time.Since(time.Unix(int64(lastSync), 0))
	interval := time.Duration(intervalDays) * 24 * time.Hour
	needSync := sinceSync > interval

	if needSync {
		c.logger.Info("Device needs time sync",
			zap.String("device_id", deviceID),
			zap.Float64("days_since_sync", sinceSync.Hours()/24),
		)
	} else {
		c.logger.Debug("Device synced recently",
			zap.String("device_id", deviceID),
			zap.Float64("hours_since_sync", sinceSync.Hours()),
		)
	}
	return needSync
}

// MarkSyncCompleted 记录设备完成时间同步的时刻
func (c *WeatherCache) MarkSyncCompleted(ctx context.Context, deviceID string) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	if err := c.client.Set(ctx, timeSyncKey(deviceID), ts, 0).Err(); err != nil {
		c.logger.Warn("Failed to save time sync marker",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return
	}
	c.logger.Info("Time sync marker updated", zap.String("device_id", deviceID))
}

// GenerateKey 为用户签发访问密钥（180 天有效）
func (c *WeatherCache) GenerateKey(ctx context.Context, userID int64) (string, error) {
	key := uuid.NewString()
	val := strconv.FormatInt(userID, 10)
	if err := c.client.Set(ctx, accessKeyKey(key), val, accessKeyTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to save access key: %w", err)
	}
	return key, nil
}

// ValidateKey 校验访问密钥，返回关联的用户 ID
func (c *WeatherCache) ValidateKey(ctx context.Context, key string) (int64, bool) {
	val, err := c.client.Get(ctx, accessKeyKey(key)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Failed to validate access key", zap.Error(err))
		}
		return 0, false
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return userID, true
}
