package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/blueprint-dashboard/api/handlers"
	"github.com/feichai0017/blueprint-dashboard/api/middleware"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	// 全局中间件
	r.Use(middleware.CORS())

	// API 版本组
	v1 := r.Group("/api/v1")

	// 上传暂存路由组
	uploads := v1.Group("/uploads")
	{
		uploads.POST("", h.Upload.SaveUploads)
		uploads.GET("", h.Upload.GetUploads)
		uploads.GET("/file", h.Upload.ReadUploadedFile)
	}

	// 任务路由组
	jobsGroup := v1.Group("/jobs")
	{
		jobsGroup.POST("/process", h.Jobs.StartProcessing)
		jobsGroup.GET("/stream", h.Stream.StreamJob)
		jobsGroup.DELETE("/images", h.Jobs.DeleteImage)
		jobsGroup.GET("/:jobId", h.Jobs.GetJob)
	}
}
