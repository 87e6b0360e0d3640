//go:build gocv

package predictor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sort"
	"sync"

	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/model"
	"github.com/TIANLI0/SegKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// GrabCutPredictor 基于OpenCV GrabCut的本地分割后端，无需权重
type GrabCutPredictor struct {
	iterations int
	borderSize int
	maxSide    int

	mu     sync.RWMutex
	loaded bool
}

// 点提示的多输出窗口大小（相对短边）
var pointWindows = []float64{0.1, 0.2, 0.35}

func NewGrabCutPredictor(cfg *config.GrabCutConfig) (Predictor, error) {
	return &GrabCutPredictor{
		iterations: cfg.Iterations,
		borderSize: cfg.BorderSize,
		maxSide:    cfg.MaxSide,
	}, nil
}

// Load 在一张合成图上跑一次GrabCut，确认OpenCV可用
func (p *GrabCutPredictor) Load(ctx context.Context) error {
	probe := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 32, 32, gocv.MatTypeCV8UC3)
	defer probe.Close()
	gocv.Rectangle(&probe, image.Rect(8, 8, 24, 24), color.RGBA{R: 220, G: 220, B: 220, A: 255}, -1)

	mask := gocv.NewMat()
	defer mask.Close()
	bgd := gocv.NewMat()
	defer bgd.Close()
	fgd := gocv.NewMat()
	defer fgd.Close()
	gocv.GrabCut(probe, &mask, image.Rect(4, 4, 28, 28), &bgd, &fgd, 1, gocv.GCInitWithRect)
	if mask.Empty() {
		return fmt.Errorf("grabcut probe produced no mask")
	}

	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()

	utils.Logger.Info("grabcut backend ready",
		zap.String("gocv_version", gocv.Version()),
		zap.String("opencv_version", gocv.OpenCVVersion()))
	return nil
}

func (p *GrabCutPredictor) Device() string {
	return "cpu"
}

func (p *GrabCutPredictor) ready() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.loaded {
		return ErrNotLoaded
	}
	return nil
}

// GenerateEverything 显著性轮廓作为候选区域，再以GrabCut细化；
// 分数取细化结果与原轮廓的一致程度
func (p *GrabCutPredictor) GenerateEverything(ctx context.Context, img model.Raster, params model.GenerateParams) ([]model.MaskCandidate, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	src, err := rasterToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	scaled, scale := smartResize(&src, p.maxSide)
	defer scaled.Close()
	w, h := scaled.Cols(), scaled.Rows()

	saliency := saliencyMap(&scaled)
	defer saliency.Close()

	contours := gocv.FindContours(saliency, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	type region struct {
		idx  int
		area float64
	}
	minArea := float64(params.MinMaskRegionArea) * scale * scale
	regions := make([]region, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area >= minArea {
			regions = append(regions, region{idx: i, area: area})
		}
	}
	sort.SliceStable(regions, func(i, j int) bool { return regions[i].area > regions[j].area })
	if limit := params.PointsPerSide; limit > 0 && len(regions) > limit {
		regions = regions[:limit]
	}

	iterations := iterationsFor(&scaled, p.iterations)
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}

	out := make([]model.MaskCandidate, 0, len(regions))
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		contourMask := gocv.Zeros(h, w, gocv.MatTypeCV8U)
		gocv.DrawContours(&contourMask, contours, r.idx, white, -1)

		rect := gocv.BoundingRect(contours.At(r.idx))
		pad := max(p.borderSize, int(float64(rect.Dx())*0.05))
		rect = clampRect(rect.Inset(-pad), w, h)

		refined := p.segmentRect(&scaled, rect, iterations)
		score := maskAgreement(&refined, &contourMask)
		contourMask.Close()

		if score < params.PredIoUThresh || gocv.CountNonZero(refined) == 0 {
			refined.Close()
			continue
		}

		full := restoreSize(&refined, img.Width, img.Height)
		refined.Close()
		out = append(out, model.MaskCandidate{Mask: matToMask(&full), Score: score})
		full.Close()
	}

	utils.Logger.Debug("grabcut everything",
		zap.Int("contours", contours.Size()),
		zap.Int("candidates", len(out)))
	return out, nil
}

func (p *GrabCutPredictor) Predict(ctx context.Context, img model.Raster, in PredictInput) ([]model.Mask, []float64, error) {
	if err := p.ready(); err != nil {
		return nil, nil, err
	}
	if in.Box == nil && len(in.Points) == 0 {
		return nil, nil, fmt.Errorf("predict requires points or a box")
	}

	src, err := rasterToMat(img)
	if err != nil {
		return nil, nil, err
	}
	defer src.Close()

	scaled, scale := smartResize(&src, p.maxSide)
	defer scaled.Close()
	w, h := scaled.Cols(), scaled.Rows()
	iterations := iterationsFor(&scaled, p.iterations)

	if in.Box != nil {
		rect := clampRect(image.Rect(
			int(float64(in.Box.X1)*scale), int(float64(in.Box.Y1)*scale),
			int(float64(in.Box.X2)*scale), int(float64(in.Box.Y2)*scale),
		), w, h)

		fg := p.segmentRect(&scaled, rect, iterations)
		defer fg.Close()
		score := coverage(&fg, rect)

		full := restoreSize(&fg, img.Width, img.Height)
		defer full.Close()
		return []model.Mask{matToMask(&full)}, []float64{score}, nil
	}

	points := make([]image.Point, 0, len(in.Points))
	for _, pt := range in.Points {
		points = append(points, image.Pt(int(float64(pt.X)*scale), int(float64(pt.Y)*scale)))
	}

	windows := pointWindows
	if !in.Multimask {
		windows = pointWindows[1:2]
	}

	masks := make([]model.Mask, 0, len(windows))
	scores := make([]float64, 0, len(windows))
	for _, ratio := range windows {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		window := pointWindow(points, int(float64(min(w, h))*ratio), w, h)

		fg := p.segmentPoints(&scaled, window, points, iterations)
		scores = append(scores, coverage(&fg, window))
		full := restoreSize(&fg, img.Width, img.Height)
		fg.Close()
		masks = append(masks, matToMask(&full))
		full.Close()
	}
	return masks, scores, nil
}

func (p *GrabCutPredictor) Close() error {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
	return nil
}

// segmentRect 矩形初始化的GrabCut，过小的矩形直接返回矩形本身
func (p *GrabCutPredictor) segmentRect(img *gocv.Mat, rect image.Rectangle, iterations int) gocv.Mat {
	if rect.Dx() < 4 || rect.Dy() < 4 {
		out := gocv.Zeros(img.Rows(), img.Cols(), gocv.MatTypeCV8U)
		gocv.Rectangle(&out, rect, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
		return out
	}

	mask := gocv.NewMat()
	defer mask.Close()
	bgd := gocv.NewMat()
	defer bgd.Close()
	fgd := gocv.NewMat()
	defer fgd.Close()
	gocv.GrabCut(*img, &mask, rect, &bgd, &fgd, iterations, gocv.GCInitWithRect)

	fg := extractForeground(&mask)
	defer fg.Close()
	return morphologyOptimize(&fg, 3)
}

// segmentPoints 窗口外为背景，窗口内为可能背景，提示点周围为确定前景
func (p *GrabCutPredictor) segmentPoints(img *gocv.Mat, window image.Rectangle, points []image.Point, iterations int) gocv.Mat {
	w, h := img.Cols(), img.Rows()
	mask := gocv.Zeros(h, w, gocv.MatTypeCV8U)
	defer mask.Close()

	for y := window.Min.Y; y < window.Max.Y; y++ {
		for x := window.Min.X; x < window.Max.X; x++ {
			mask.SetUCharAt(y, x, gcPRBGD)
		}
	}

	radius := max(3, min(w, h)/50)
	for _, pt := range points {
		for y := max(0, pt.Y-radius); y <= min(h-1, pt.Y+radius); y++ {
			for x := max(0, pt.X-radius); x <= min(w-1, pt.X+radius); x++ {
				dx, dy := x-pt.X, y-pt.Y
				if dx*dx+dy*dy <= radius*radius {
					mask.SetUCharAt(y, x, gcFGD)
				}
			}
		}
	}

	bgd := gocv.NewMat()
	defer bgd.Close()
	fgd := gocv.NewMat()
	defer fgd.Close()
	gocv.GrabCut(*img, &mask, image.Rectangle{}, &bgd, &fgd, iterations, gocv.GCInitWithMask)

	fg := extractForeground(&mask)
	defer fg.Close()
	return morphologyOptimize(&fg, 3)
}

// pointWindow 所有提示点的外接矩形向外扩展pad
func pointWindow(points []image.Point, pad, width, height int) image.Rectangle {
	r := image.Rectangle{Min: points[0], Max: points[0].Add(image.Pt(1, 1))}
	for _, pt := range points[1:] {
		r = r.Union(image.Rectangle{Min: pt, Max: pt.Add(image.Pt(1, 1))})
	}
	return clampRect(r.Inset(-pad), width, height)
}

// maskAgreement 两个二值图的交并比
func maskAgreement(a, b *gocv.Mat) float64 {
	inter := gocv.NewMat()
	defer inter.Close()
	gocv.BitwiseAnd(*a, *b, &inter)

	union := gocv.NewMat()
	defer union.Close()
	gocv.BitwiseOr(*a, *b, &union)

	u := gocv.CountNonZero(union)
	if u == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(inter)) / float64(u)
}
