package service

import (
	"context"
	"errors"
	"time"

	"github.com/TIANLI0/SegKit/codec"
	"github.com/TIANLI0/SegKit/model"
	"github.com/TIANLI0/SegKit/utils"
	"go.uber.org/zap"
)

// ResultCache 分割结果缓存，RedisService 实现该接口
type ResultCache interface {
	GetSegmentation(ctx context.Context, key string) (*model.SegmentResponse, error)
	SetSegmentation(ctx context.Context, key string, result *model.SegmentResponse) error
}

// SegmentRequest 一次分割请求的原始输入
type SegmentRequest struct {
	Image  []byte
	Mode   string
	Points string
	Boxes  string
}

// SegmentService 串联就绪检查、解码、路由、调度、后处理与编码
type SegmentService struct {
	models     *ModelManager
	dispatcher *Dispatcher
	router     *PromptRouter
	processor  *MaskProcessor
	cache      ResultCache
	maxPixels  int
}

// NewSegmentService cache 可以为 nil，maxPixels<=0 时使用 codec.DefaultMaxPixels
func NewSegmentService(models *ModelManager, d *Dispatcher, router *PromptRouter, processor *MaskProcessor, cache ResultCache, maxPixels int) *SegmentService {
	if maxPixels <= 0 {
		maxPixels = codec.DefaultMaxPixels
	}
	return &SegmentService{
		models:     models,
		dispatcher: d,
		router:     router,
		processor:  processor,
		cache:      cache,
		maxPixels:  maxPixels,
	}
}

// Ready 模型未就绪时返回 ErrModelNotReady
func (s *SegmentService) Ready() error {
	_, err := s.models.Predictor()
	return err
}

// Segment 处理一次分割请求
func (s *SegmentService) Segment(ctx context.Context, req SegmentRequest) (*model.SegmentResponse, error) {
	p, err := s.models.Predictor()
	if err != nil {
		return nil, err
	}

	img, err := codec.DecodeImageLimit(req.Image, s.maxPixels)
	if err != nil {
		utils.Logger.Warn("error processing image data", zap.Error(err))
		return nil, newError(KindInvalidImage, "Invalid image data", err)
	}

	prompt, err := ParsePrompt(req.Mode, req.Points, req.Boxes)
	if err != nil {
		return nil, err
	}

	cacheKey := utils.BytesMD5(req.Image) + ":" + prompt.CacheKey()
	if cached := s.lookup(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	start := time.Now()
	future, err := Submit(s.dispatcher, func() ([]model.MaskCandidate, error) {
		// 调用方断开后任务仍会执行完，结果被丢弃
		return s.router.Route(context.Background(), p, img, prompt)
	})
	if err != nil {
		return nil, err
	}

	cands, err := future.Await(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			utils.Logger.Info("request abandoned before inference finished",
				zap.String("mode", string(prompt.Kind)))
		}
		return nil, err
	}

	raw := len(cands)
	if prompt.Kind == model.PromptEverything {
		cands = s.processor.Suppress(cands)
	}

	resp := &model.SegmentResponse{
		Success:    true,
		Mode:       string(prompt.Kind),
		NumMasks:   len(cands),
		Masks:      EncodeResults(cands),
		ImageShape: img.Shape(),
	}

	utils.Logger.Info("segmentation finished",
		zap.String("mode", resp.Mode),
		zap.Int("candidates", raw),
		zap.Int("masks", resp.NumMasks),
		zap.Duration("duration", time.Since(start)))

	s.store(ctx, cacheKey, resp)
	return resp, nil
}

// EncodeResults 按顺序编号并编码掩码；单个掩码编码失败时保留条目并标记错误
func EncodeResults(cands []model.MaskCandidate) []model.MaskResult {
	out := make([]model.MaskResult, 0, len(cands))
	for i, c := range cands {
		r := model.MaskResult{
			ID:    i,
			Score: c.Score,
			Area:  c.Mask.Area(),
		}
		encoded, err := codec.EncodeMask(c.Mask)
		if err != nil {
			utils.Logger.Error("error encoding mask", zap.Int("id", i), zap.Error(err))
			r.Error = "mask encoding failed"
		}
		r.Mask = encoded
		out = append(out, r)
	}
	return out
}

func (s *SegmentService) lookup(ctx context.Context, key string) *model.SegmentResponse {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.GetSegmentation(ctx, key)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
		return nil
	}
	if cached != nil {
		utils.Logger.Info("cache hit", zap.String("cache_key", key))
		cached.Cached = true
	}
	return cached
}

func (s *SegmentService) store(ctx context.Context, key string, resp *model.SegmentResponse) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetSegmentation(ctx, key, resp); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}
}
