package predictor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/model"
)

// MockPredictor 生成合成形状的假模型，用于联调和测试
type MockPredictor struct {
	loadDelay time.Duration
	failLoad  bool
	device    string

	mu     sync.RWMutex
	loaded bool
	loads  int
}

func NewMockPredictor(cfg *config.MockConfig, device string) *MockPredictor {
	if device == "" {
		device = "cpu"
	}
	return &MockPredictor{
		loadDelay: cfg.LoadDelay,
		failLoad:  cfg.FailLoad,
		device:    device,
	}
}

func (p *MockPredictor) Load(ctx context.Context) error {
	p.mu.Lock()
	p.loads++
	p.mu.Unlock()

	if p.loadDelay > 0 {
		select {
		case <-time.After(p.loadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.failLoad {
		return errors.New("mock checkpoint unavailable")
	}

	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()
	return nil
}

// Loads 返回Load被调用的次数
func (p *MockPredictor) Loads() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loads
}

func (p *MockPredictor) Device() string {
	return p.device
}

func (p *MockPredictor) isLoaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loaded
}

// GenerateEverything 左上矩形、中心圆、右下矩形，各附带一个偏移的近似重复
func (p *MockPredictor) GenerateEverything(ctx context.Context, img model.Raster, params model.GenerateParams) ([]model.MaskCandidate, error) {
	if !p.isLoaded() {
		return nil, ErrNotLoaded
	}

	w, h := img.Width, img.Height
	shapes := []model.MaskCandidate{
		{Mask: rectMask(w, h, w/4, h/4, w/2, h/2), Score: 0.80},
		{Mask: circleMask(w, h, w/2, h/2, min(w, h)/6), Score: 0.85},
		{Mask: rectMask(w, h, w/2, h/2, 3*w/4, 3*h/4), Score: 0.90},
	}

	out := make([]model.MaskCandidate, 0, len(shapes)*2)
	for _, s := range shapes {
		out = append(out, s)
		dx, dy := max(1, w/50), max(1, h/50)
		out = append(out, model.MaskCandidate{Mask: shift(s.Mask, dx, dy), Score: s.Score - 0.1})
	}

	filtered := out[:0]
	for _, c := range out {
		if c.Score < params.PredIoUThresh {
			continue
		}
		if c.Mask.Area() < params.MinMaskRegionArea {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered, nil
}

// Predict 点提示返回围绕点质心的三个嵌套方块，框提示返回裁剪后的框
func (p *MockPredictor) Predict(ctx context.Context, img model.Raster, in PredictInput) ([]model.Mask, []float64, error) {
	if !p.isLoaded() {
		return nil, nil, ErrNotLoaded
	}

	w, h := img.Width, img.Height
	if in.Box != nil {
		b := in.Box
		return []model.Mask{rectMask(w, h, b.X1, b.Y1, b.X2, b.Y2)}, []float64{0.92}, nil
	}
	if len(in.Points) == 0 {
		return nil, nil, errors.New("predict requires points or a box")
	}

	cx, cy := 0, 0
	for _, pt := range in.Points {
		cx += pt.X
		cy += pt.Y
	}
	cx /= len(in.Points)
	cy /= len(in.Points)

	radii := []int{max(1, min(w, h)/10), max(2, min(w, h)/5), max(3, min(w, h)/3)}
	scores := []float64{0.88, 0.93, 0.79}
	if !in.Multimask {
		radii, scores = radii[1:2], scores[1:2]
	}

	masks := make([]model.Mask, 0, len(radii))
	for _, r := range radii {
		masks = append(masks, rectMask(w, h, cx-r, cy-r, cx+r+1, cy+r+1))
	}
	return masks, scores, nil
}

func (p *MockPredictor) Close() error {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
	return nil
}

func rectMask(w, h, x1, y1, x2, y2 int) model.Mask {
	m := model.NewMask(w, h)
	m.FillRect(x1, y1, x2, y2)
	return m
}

func circleMask(w, h, cx, cy, r int) model.Mask {
	m := model.NewMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				m.Set(x, y, true)
			}
		}
	}
	return m
}

func shift(src model.Mask, dx, dy int) model.Mask {
	m := model.NewMask(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			if !src.Get(x, y) {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < src.Width && ny < src.Height {
				m.Set(nx, ny, true)
			}
		}
	}
	return m
}
