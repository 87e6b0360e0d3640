package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TIANLI0/SegKit/model"
	"github.com/TIANLI0/SegKit/predictor"
	"github.com/TIANLI0/SegKit/utils"
	"go.uber.org/zap"
)

// ParsePrompt 解析 mode 以及 JSON 形式的 points/boxes，
// 在调用模型之前拒绝非法组合
func ParsePrompt(mode, pointsJSON, boxesJSON string) (model.Prompt, error) {
	kind := model.PromptKind(strings.ToLower(strings.TrimSpace(mode)))
	if kind == "" {
		kind = model.PromptEverything
	}

	switch kind {
	case model.PromptEverything:
		return model.Prompt{Kind: kind}, nil

	case model.PromptPoints:
		var raw [][]int
		if err := decodeJSONField("points", pointsJSON, &raw); err != nil {
			return model.Prompt{}, err
		}
		if len(raw) == 0 {
			return model.Prompt{}, newError(KindInvalidRequest, "points mode requires at least one point", nil)
		}
		points := make([]model.Point, 0, len(raw))
		for i, p := range raw {
			if len(p) != 2 {
				return model.Prompt{}, newError(KindInvalidRequest, fmt.Sprintf("point %d must be [x, y]", i), nil)
			}
			points = append(points, model.Point{X: p[0], Y: p[1]})
		}
		return model.Prompt{Kind: kind, Points: points}, nil

	case model.PromptBoxes:
		var raw [][]int
		if err := decodeJSONField("boxes", boxesJSON, &raw); err != nil {
			return model.Prompt{}, err
		}
		if len(raw) == 0 {
			return model.Prompt{}, newError(KindInvalidRequest, "boxes mode requires at least one box", nil)
		}
		boxes := make([]model.Box, 0, len(raw))
		for i, b := range raw {
			if len(b) != 4 {
				return model.Prompt{}, newError(KindInvalidRequest, fmt.Sprintf("box %d must be [x1, y1, x2, y2]", i), nil)
			}
			if b[2] < b[0] || b[3] < b[1] {
				return model.Prompt{}, newError(KindInvalidRequest, fmt.Sprintf("box %d has x2 < x1 or y2 < y1", i), nil)
			}
			boxes = append(boxes, model.Box{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]})
		}
		return model.Prompt{Kind: kind, Boxes: boxes}, nil

	default:
		return model.Prompt{}, newError(KindInvalidRequest, fmt.Sprintf("invalid segmentation mode: %s", mode), nil)
	}
}

func decodeJSONField(name, raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return newError(KindInvalidRequest, fmt.Sprintf("%s must be a JSON array", name), err)
	}
	return nil
}

// PromptRouter 将prompt映射到对应的模型调用
type PromptRouter struct {
	params model.GenerateParams
}

func NewPromptRouter(params model.GenerateParams) *PromptRouter {
	return &PromptRouter{params: params}
}

// Route 执行模型调用并校验掩码尺寸
func (r *PromptRouter) Route(ctx context.Context, p predictor.Predictor, img model.Raster, prompt model.Prompt) ([]model.MaskCandidate, error) {
	var (
		cands []model.MaskCandidate
		err   error
	)

	switch prompt.Kind {
	case model.PromptEverything:
		cands, err = p.GenerateEverything(ctx, img, r.params)
	case model.PromptPoints:
		cands, err = r.points(ctx, p, img, prompt.Points)
	case model.PromptBoxes:
		cands, err = r.boxes(ctx, p, img, prompt.Boxes)
	default:
		return nil, newError(KindInvalidRequest, fmt.Sprintf("invalid segmentation mode: %s", prompt.Kind), nil)
	}
	if err != nil {
		var typed *Error
		if errors.As(err, &typed) {
			return nil, err
		}
		utils.Logger.Error("segmentation error",
			zap.String("mode", string(prompt.Kind)),
			zap.Error(err))
		return nil, newError(KindInferenceFailure, "segmentation failed", err)
	}

	for i, c := range cands {
		if !c.Mask.SameSize(img.Width, img.Height) {
			return nil, newError(KindInferenceFailure, "segmentation failed",
				fmt.Errorf("mask %d is %dx%d, image is %dx%d", i, c.Mask.Width, c.Mask.Height, img.Width, img.Height))
		}
	}
	return cands, nil
}

// points 所有点都作为前景，多输出
func (r *PromptRouter) points(ctx context.Context, p predictor.Predictor, img model.Raster, points []model.Point) ([]model.MaskCandidate, error) {
	masks, scores, err := p.Predict(ctx, img, predictor.PredictInput{Points: points, Multimask: true})
	if err != nil {
		return nil, err
	}
	return zipCandidates(masks, scores), nil
}

// boxes 每个框独立调用一次，单输出，按框的顺序拼接
func (r *PromptRouter) boxes(ctx context.Context, p predictor.Predictor, img model.Raster, boxes []model.Box) ([]model.MaskCandidate, error) {
	out := make([]model.MaskCandidate, 0, len(boxes))
	for i := range boxes {
		masks, scores, err := p.Predict(ctx, img, predictor.PredictInput{Box: &boxes[i], Multimask: false})
		if err != nil {
			return nil, err
		}
		if len(masks) == 0 {
			return nil, fmt.Errorf("model returned no mask for box %d", i)
		}
		c := zipCandidates(masks[:1], scores)
		out = append(out, c[0])
	}
	return out, nil
}

// zipCandidates 缺失的分数记为0
func zipCandidates(masks []model.Mask, scores []float64) []model.MaskCandidate {
	out := make([]model.MaskCandidate, 0, len(masks))
	for i, m := range masks {
		score := 0.0
		if i < len(scores) {
			score = scores[i]
		}
		out = append(out, model.MaskCandidate{Mask: m, Score: score})
	}
	return out
}
