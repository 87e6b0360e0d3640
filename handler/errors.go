package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/TIANLI0/SegKit/model"
	"github.com/TIANLI0/SegKit/service"
	"github.com/TIANLI0/SegKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusOf 错误分类到HTTP状态码
func statusOf(kind service.ErrorKind) int {
	switch kind {
	case service.KindInvalidRequest, service.KindInvalidImage:
		return http.StatusBadRequest
	case service.KindModelNotReady, service.KindOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError 将业务错误写成统一的错误响应，不向客户端暴露内部细节以外的信息
func respondError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) {
		// 客户端已断开
		c.Abort()
		return
	}

	resp := model.ErrorResponse{Success: false}
	var e *service.Error
	if errors.As(err, &e) {
		resp.Message = e.Message
		if e.Err != nil {
			resp.Error = e.Err.Error()
		} else {
			resp.Error = e.Kind.String()
		}
	} else {
		resp.Message = "internal server error"
		resp.Error = err.Error()
	}

	status := statusOf(service.KindOf(err))
	if errors.Is(err, context.DeadlineExceeded) && e == nil {
		status = http.StatusGatewayTimeout
		resp.Message = "request timed out"
	}

	if status >= http.StatusInternalServerError {
		utils.Logger.Error("request failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.Int("status", status),
			zap.Error(err))
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

func errorBody(msg string, err error) model.ErrorResponse {
	resp := model.ErrorResponse{Success: false, Message: msg}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}
