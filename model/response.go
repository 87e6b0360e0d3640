package model

// MaskResult 单个掩码结果
type MaskResult struct {
	ID    int     `json:"id"`
	Mask  string  `json:"mask"` // base64编码的PNG
	Score float64 `json:"score"`
	Area  int     `json:"area"`
	Error string  `json:"error,omitempty"`
}

// SegmentResponse 分割响应
type SegmentResponse struct {
	Success    bool         `json:"success"`
	Mode       string       `json:"mode"`
	NumMasks   int          `json:"num_masks"`
	Masks      []MaskResult `json:"masks"`
	ImageShape [2]int       `json:"image_shape"`
	Cached     bool         `json:"cached,omitempty"`
}

// DispatcherStats 推理队列状态
type DispatcherStats struct {
	Workers int `json:"workers"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status         string          `json:"status"`
	ModelLoaded    bool            `json:"model_loaded"`
	ModelState     ModelPhase      `json:"model_state"`
	Device         string          `json:"device"`
	ServiceRunning bool            `json:"service_running"`
	Message        string          `json:"message"`
	Reason         string          `json:"reason,omitempty"`
	Dispatcher     DispatcherStats `json:"dispatcher"`
}

// LoadModelResponse 手动加载模型响应
type LoadModelResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
