package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/blueprint-dashboard/internal/service/blueprint"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
)

type JobHandler struct {
	service blueprint.Service
	logger  logger.Logger
}

func NewJobHandler(service blueprint.Service, logger logger.Logger) *JobHandler {
	return &JobHandler{
		service: service,
		logger:  logger,
	}
}

// StartProcessing 对暂存批次启动处理任务
func (h *JobHandler) StartProcessing(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token is required"})
		return
	}

	jobID, err := h.service.StartProcessing(c.Request.Context(), req.Token)
	if err != nil {
		if errors.Is(err, blueprint.ErrTokenNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
			return
		}
		h.logger.Error("Failed to start processing",
			logger.String("token", req.Token),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start processing"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobId": jobID})
}

// GetJob 查询任务状态
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Job ID required"})
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error("Failed to get job",
			logger.String("jobId", jobID),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// DeleteImage 删除任务中的一张处理结果图片
func (h *JobHandler) DeleteImage(c *gin.Context) {
	var req struct {
		JobID     string `json:"jobId"`
		ImagePath string `json:"imagePath"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.JobID == "" || req.ImagePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jobId and imagePath are required"})
		return
	}

	if !h.service.DeleteImage(c.Request.Context(), req.JobID, req.ImagePath) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
