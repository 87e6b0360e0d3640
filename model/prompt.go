package model

import "fmt"

// PromptKind 分割模式
type PromptKind string

const (
	PromptEverything PromptKind = "everything"
	PromptPoints     PromptKind = "points"
	PromptBoxes      PromptKind = "boxes"
)

// Point 前景点坐标
type Point struct {
	X int
	Y int
}

// Box 矩形框 (x1,y1)-(x2,y2)
type Box struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Prompt 每个请求只有一种模式生效
type Prompt struct {
	Kind   PromptKind
	Points []Point
	Boxes  []Box
}

// CacheKey 生成稳定的prompt描述，用于拼接缓存key
func (p Prompt) CacheKey() string {
	switch p.Kind {
	case PromptPoints:
		return fmt.Sprintf("%s:%v", p.Kind, p.Points)
	case PromptBoxes:
		return fmt.Sprintf("%s:%v", p.Kind, p.Boxes)
	default:
		return string(p.Kind)
	}
}

// GenerateParams everything模式下的密集生成参数，来自配置而非请求
type GenerateParams struct {
	PointsPerSide        int     `mapstructure:"points_per_side" json:"points_per_side"`
	PredIoUThresh        float64 `mapstructure:"pred_iou_thresh" json:"pred_iou_thresh"`
	StabilityScoreThresh float64 `mapstructure:"stability_score_thresh" json:"stability_score_thresh"`
	BoxNMSThresh         float64 `mapstructure:"box_nms_thresh" json:"box_nms_thresh"`
	CropNLayers          int     `mapstructure:"crop_n_layers" json:"crop_n_layers"`
	CropNMSThresh        float64 `mapstructure:"crop_nms_thresh" json:"crop_nms_thresh"`
	MinMaskRegionArea    int     `mapstructure:"min_mask_region_area" json:"min_mask_region_area"`
	MultimaskOutput      bool    `mapstructure:"multimask_output" json:"multimask_output"`
}

// ModelPhase 模型生命周期阶段
type ModelPhase string

const (
	PhaseUnloaded ModelPhase = "unloaded"
	PhaseLoading  ModelPhase = "loading"
	PhaseReady    ModelPhase = "ready"
	PhaseFailed   ModelPhase = "failed"
)

// ModelState 模型状态快照
type ModelState struct {
	Phase    ModelPhase
	Reason   string
	Device   string
	Attempts int
}

func (s ModelState) Ready() bool {
	return s.Phase == PhaseReady
}
