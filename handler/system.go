package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/TIANLI0/SegKit/model"
	"github.com/TIANLI0/SegKit/service"
	"github.com/gin-gonic/gin"
)

// BuildInfo 构建信息，由main通过ldflags注入
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	BuildID   string `json:"build_id"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
}

type SystemHandler struct {
	models     *service.ModelManager
	dispatcher *service.Dispatcher
	build      BuildInfo
	loadWait   time.Duration
}

func NewSystemHandler(models *service.ModelManager, d *service.Dispatcher, build BuildInfo, loadWait time.Duration) *SystemHandler {
	return &SystemHandler{
		models:     models,
		dispatcher: d,
		build:      build,
		loadWait:   loadWait,
	}
}

// Root 服务信息
func (h *SystemHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "SegKit Segmentation Service",
		"status":  "running",
		"version": h.build.Version,
	})
}

func (h *SystemHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "pong"})
}

func (h *SystemHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, h.build)
}

// Health 始终返回200，模型状态通过响应体表达
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.health())
}

// Ready 仅在模型就绪时返回200，供需要区分可推理状态的探针使用
func (h *SystemHandler) Ready(c *gin.Context) {
	resp := h.health()
	status := http.StatusOK
	if !resp.ModelLoaded {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (h *SystemHandler) health() model.HealthResponse {
	state := h.models.State()
	resp := model.HealthResponse{
		Status:         "healthy",
		ModelLoaded:    state.Ready(),
		ModelState:     state.Phase,
		Device:         h.models.Device(),
		ServiceRunning: true,
		Reason:         state.Reason,
		Dispatcher:     h.dispatcher.Stats(),
	}

	switch state.Phase {
	case model.PhaseReady:
		resp.Message = "Service ready"
	case model.PhaseLoading:
		resp.Status = "degraded"
		resp.Message = "Model loading in progress..."
	case model.PhaseFailed:
		resp.Status = "degraded"
		resp.Message = "Model failed to load"
	default:
		resp.Status = "degraded"
		resp.Message = "Model not loaded"
	}
	return resp
}

// LoadModel 触发模型加载。默认最多等待 load_wait，wait=false 时立即返回
func (h *SystemHandler) LoadModel(c *gin.Context) {
	before := h.models.State()
	if before.Ready() {
		c.JSON(http.StatusOK, model.LoadModelResponse{Status: "success", Message: "Model already loaded"})
		return
	}

	state := h.models.RequestLoad()
	if c.DefaultQuery("wait", "true") != "false" && h.loadWait > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.loadWait)
		state = h.models.Wait(ctx)
		cancel()
	}

	switch state.Phase {
	case model.PhaseReady:
		c.JSON(http.StatusOK, model.LoadModelResponse{Status: "success", Message: "Model loaded successfully"})
	case model.PhaseFailed:
		c.JSON(http.StatusOK, model.LoadModelResponse{Status: "error", Message: state.Reason})
	default:
		c.JSON(http.StatusOK, model.LoadModelResponse{Status: "success", Message: "Model loading in progress"})
	}
}
