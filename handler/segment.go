package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/TIANLI0/SegKit/service"
	"github.com/TIANLI0/SegKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SegmentHandler struct {
	segments  *service.SegmentService
	fetcher   *service.ImageFetcher
	maxUpload int64
}

func NewSegmentHandler(segments *service.SegmentService, fetcher *service.ImageFetcher, maxUpload int64) *SegmentHandler {
	if maxUpload <= 0 {
		maxUpload = 10 * 1024 * 1024
	}
	return &SegmentHandler{
		segments:  segments,
		fetcher:   fetcher,
		maxUpload: maxUpload,
	}
}

// Segment 处理上传图片的分割请求
func (h *SegmentHandler) Segment(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("file is required", err))
		return
	}

	// 验证文件大小
	if file.Size > h.maxUpload {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(
			fmt.Sprintf("file size exceeds limit (%d MB)", h.maxUpload/(1024*1024)), nil))
		return
	}

	f, err := file.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.Logger.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size),
		zap.String("mode", c.PostForm("mode")))

	h.run(c, data)
}

// SegmentURL 处理 image_url 指定图片的分割请求
func (h *SegmentHandler) SegmentURL(c *gin.Context) {
	imageURL := c.PostForm("image_url")
	if imageURL == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("image_url is required", nil))
		return
	}

	// 模型未就绪时不下载图片
	if err := h.segments.Ready(); err != nil {
		respondError(c, err)
		return
	}

	data, err := h.fetcher.Fetch(c.Request.Context(), imageURL)
	if err != nil {
		respondError(c, err)
		return
	}

	h.run(c, data)
}

func (h *SegmentHandler) run(c *gin.Context, data []byte) {
	resp, err := h.segments.Segment(c.Request.Context(), service.SegmentRequest{
		Image:  data,
		Mode:   c.PostForm("mode"),
		Points: c.PostForm("points"),
		Boxes:  c.PostForm("boxes"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
