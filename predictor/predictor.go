// Package predictor 定义分割模型协作方接口及其后端实现
package predictor

import (
	"context"
	"errors"
	"fmt"

	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/model"
)

// ErrNotLoaded 在Load成功前调用推理
var ErrNotLoaded = errors.New("model not loaded")

// PredictInput 点或框提示，二者只取其一
type PredictInput struct {
	Points    []model.Point
	Box       *model.Box
	Multimask bool
}

// Predictor 分割模型。推理调用不保证可重入，由调用方控制并发
type Predictor interface {
	Load(ctx context.Context) error
	Device() string
	GenerateEverything(ctx context.Context, img model.Raster, params model.GenerateParams) ([]model.MaskCandidate, error)
	Predict(ctx context.Context, img model.Raster, in PredictInput) ([]model.Mask, []float64, error)
	Close() error
}

// New 根据 model.backend 创建后端
func New(cfg *config.Config) (Predictor, error) {
	switch cfg.Model.Backend {
	case "", "mock":
		return NewMockPredictor(&cfg.Mock, cfg.Model.Device), nil
	case "remote":
		return NewRemotePredictor(&cfg.Remote, &cfg.Model)
	case "grabcut":
		return NewGrabCutPredictor(&cfg.GrabCut)
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Model.Backend)
	}
}
