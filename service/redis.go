package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/model"
	"github.com/TIANLI0/SegKit/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetSegmentation 从缓存获取分割结果，未命中返回 nil, nil
func (s *RedisService) GetSegmentation(ctx context.Context, key string) (*model.SegmentResponse, error) {
	data, err := s.client.Get(ctx, "seg:"+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var result model.SegmentResponse
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal segmentation result",
			zap.String("key", key), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetSegmentation 设置分割结果到缓存
func (s *RedisService) SetSegmentation(ctx context.Context, key string, result *model.SegmentResponse) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, "seg:"+key, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
