package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/blueprint-dashboard/internal/service/blueprint"
	"github.com/feichai0017/blueprint-dashboard/internal/tempstore"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
)

// uploadTokenCookie is the client-side fallback carrying the staging token.
const uploadTokenCookie = "upload_token"

type UploadHandler struct {
	service   blueprint.Service
	uploadTTL time.Duration
	logger    logger.Logger
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewUploadHandler(service blueprint.Service, uploadTTL time.Duration, logger logger.Logger) *UploadHandler {
	return &UploadHandler{
		service:   service,
		uploadTTL: uploadTTL,
		logger:    logger,
	}
}

// SaveUploads 暂存一批上传文件
func (h *UploadHandler) SaveUploads(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid form data", err)
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		h.handleError(c, http.StatusBadRequest, "No files provided", nil)
		return
	}

	files := make([]tempstore.IncomingFile, 0, len(headers))
	opened := make([]interface{ Close() error }, 0, len(headers))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			h.handleError(c, http.StatusInternalServerError, "Failed to read upload", err)
			return
		}
		opened = append(opened, f)
		files = append(files, tempstore.IncomingFile{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        f,
		})
	}

	batch, err := h.service.StageUpload(c.Request.Context(), files)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to stage files", err)
		return
	}

	// cookie fallback so the client can recover the token on reload
	c.SetCookie(uploadTokenCookie, batch.Token, int(h.uploadTTL.Seconds()), "/", "", false, true)

	c.JSON(http.StatusOK, batch)
}

// GetUploads 根据 token 查询暂存文件
func (h *UploadHandler) GetUploads(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token, _ = c.Cookie(uploadTokenCookie)
	}
	if token == "" {
		h.handleError(c, http.StatusBadRequest, "Token is required", nil)
		return
	}

	files, ok := h.service.StagedFiles(c.Request.Context(), token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": files})
}

// ReadUploadedFile 读取单个暂存文件内容
func (h *UploadHandler) ReadUploadedFile(c *gin.Context) {
	token := c.Query("token")
	name := c.Query("name")
	if token == "" || name == "" {
		h.handleError(c, http.StatusBadRequest, "Token and name are required", nil)
		return
	}

	data, mimeType, ok := h.service.ReadStagedFile(c.Request.Context(), token, name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
		return
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Data(http.StatusOK, mimeType, data)
}

// handleError 统一错误处理
func (h *UploadHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Message = err.Error()
	}
	c.JSON(status, response)
}
