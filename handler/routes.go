package handler

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册全部路由
func RegisterRoutes(r gin.IRouter, sys *SystemHandler, seg *SegmentHandler) {
	r.GET("/", sys.Root)
	r.GET("/ping", sys.Ping)
	r.GET("/version", sys.Version)
	r.GET("/health", sys.Health)
	r.GET("/ready", sys.Ready)
	r.POST("/load-model", sys.LoadModel)

	r.POST("/segment", seg.Segment)
	r.POST("/segment-url", seg.SegmentURL)
}
