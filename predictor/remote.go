package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/TIANLI0/SegKit/codec"
	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/model"
	"github.com/TIANLI0/SegKit/utils"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Checkpoint 模型尺寸对应的配置与权重
type Checkpoint struct {
	Config     string `json:"config"`
	Checkpoint string `json:"checkpoint"`
	URL        string `json:"url"`
}

// Checkpoints 推理端支持的模型尺寸
var Checkpoints = map[string]Checkpoint{
	"tiny": {
		Config:     "sam2_hiera_t.yaml",
		Checkpoint: "sam2_hiera_tiny.pt",
		URL:        "https://dl.fbaipublicfiles.com/segment_anything_2/072824/sam2_hiera_tiny.pt",
	},
	"small": {
		Config:     "sam2_hiera_s.yaml",
		Checkpoint: "sam2.1_hiera_small.pt",
		URL:        "https://dl.fbaipublicfiles.com/segment_anything_2/092824/sam2.1_hiera_small.pt",
	},
	"base_plus": {
		Config:     "sam2_hiera_b+.yaml",
		Checkpoint: "sam2.1_hiera_base_plus.pt",
		URL:        "https://dl.fbaipublicfiles.com/segment_anything_2/092824/sam2.1_hiera_base_plus.pt",
	},
	"large": {
		Config:     "sam2_hiera_l.yaml",
		Checkpoint: "sam2.1_hiera_large.pt",
		URL:        "https://dl.fbaipublicfiles.com/segment_anything_2/092824/sam2.1_hiera_large.pt",
	},
}

type loadRequest struct {
	ModelSize  string     `json:"model_size"`
	Device     string     `json:"device"`
	Checkpoint Checkpoint `json:"checkpoint"`
}

type loadResponse struct {
	Device string `json:"device"`
}

type remoteMask struct {
	Mask  string  `json:"mask"`
	Score float64 `json:"score"`
}

type remoteMasksResponse struct {
	Masks []remoteMask `json:"masks"`
}

type remoteError struct {
	Detail string `json:"detail"`
}

// RemotePredictor 通过HTTP调用独立部署的推理服务
type RemotePredictor struct {
	client      *resty.Client
	size        string
	device      string
	loadTimeout time.Duration

	mu     sync.RWMutex
	loaded bool
}

func NewRemotePredictor(cfg *config.RemoteConfig, modelCfg *config.ModelConfig) (*RemotePredictor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote.base_url is required for the remote backend")
	}
	if _, ok := Checkpoints[modelCfg.Size]; !ok {
		return nil, fmt.Errorf("invalid model size: %s", modelCfg.Size)
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &RemotePredictor{
		client:      client,
		size:        modelCfg.Size,
		device:      modelCfg.Device,
		loadTimeout: cfg.LoadTimeout,
	}, nil
}

// Load 请求推理端加载权重，推理端自行下载缺失的checkpoint
func (p *RemotePredictor) Load(ctx context.Context) error {
	if p.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.loadTimeout)
		defer cancel()
	}

	var out loadResponse
	var apiErr remoteError
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(loadRequest{
			ModelSize:  p.size,
			Device:     p.device,
			Checkpoint: Checkpoints[p.size],
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/load")
	if err != nil {
		return fmt.Errorf("remote load: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("remote load: status %d: %s", resp.StatusCode(), detail(apiErr, resp))
	}

	p.mu.Lock()
	p.loaded = true
	if out.Device != "" {
		p.device = out.Device
	}
	p.mu.Unlock()

	utils.Logger.Info("remote model loaded",
		zap.String("size", p.size),
		zap.String("device", out.Device))
	return nil
}

func (p *RemotePredictor) Device() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.device == "" {
		return "unknown"
	}
	return p.device
}

func (p *RemotePredictor) GenerateEverything(ctx context.Context, img model.Raster, params model.GenerateParams) ([]model.MaskCandidate, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	masks, err := p.call(ctx, "/v1/generate", img, map[string]string{
		"params": string(paramsJSON),
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.MaskCandidate, 0, len(masks))
	for _, m := range masks {
		out = append(out, model.MaskCandidate{Mask: m.mask, Score: m.score})
	}
	return out, nil
}

func (p *RemotePredictor) Predict(ctx context.Context, img model.Raster, in PredictInput) ([]model.Mask, []float64, error) {
	form := map[string]string{
		"multimask_output": strconv.FormatBool(in.Multimask),
	}
	if in.Box != nil {
		b, _ := json.Marshal([4]int{in.Box.X1, in.Box.Y1, in.Box.X2, in.Box.Y2})
		form["box"] = string(b)
	} else {
		coords := make([][2]int, 0, len(in.Points))
		for _, pt := range in.Points {
			coords = append(coords, [2]int{pt.X, pt.Y})
		}
		b, _ := json.Marshal(coords)
		form["point_coords"] = string(b)
	}

	decoded, err := p.call(ctx, "/v1/predict", img, form)
	if err != nil {
		return nil, nil, err
	}

	masks := make([]model.Mask, 0, len(decoded))
	scores := make([]float64, 0, len(decoded))
	for _, m := range decoded {
		masks = append(masks, m.mask)
		scores = append(scores, m.score)
	}
	return masks, scores, nil
}

type decodedMask struct {
	mask  model.Mask
	score float64
}

func (p *RemotePredictor) call(ctx context.Context, path string, img model.Raster, form map[string]string) ([]decodedMask, error) {
	p.mu.RLock()
	loaded := p.loaded
	p.mu.RUnlock()
	if !loaded {
		return nil, ErrNotLoaded
	}

	payload, err := codec.EncodeImagePNG(img)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	var out remoteMasksResponse
	var apiErr remoteError
	resp, err := p.client.R().
		SetContext(ctx).
		SetFileReader("file", "image.png", bytes.NewReader(payload)).
		SetFormData(form).
		SetResult(&out).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("remote %s: status %d: %s", path, resp.StatusCode(), detail(apiErr, resp))
	}

	result := make([]decodedMask, 0, len(out.Masks))
	for i, m := range out.Masks {
		mask, err := codec.DecodeMask(m.Mask)
		if err != nil {
			return nil, fmt.Errorf("remote %s: mask %d: %w", path, i, err)
		}
		result = append(result, decodedMask{mask: mask, score: m.Score})
	}
	return result, nil
}

func (p *RemotePredictor) Close() error {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
	return nil
}

func detail(e remoteError, resp *resty.Response) string {
	if e.Detail != "" {
		return e.Detail
	}
	return resp.String()
}
