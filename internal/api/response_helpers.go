// internal/api/response_helpers.go
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/ClipStudy/internal/errors"
	"github.com/Corphon/ClipStudy/internal/utils"
)

// ErrorResponse 错误响应格式，error 字段与旧版前端兼容
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct {
	metrics *utils.APIMetrics
}

// NewResponseHelper 创建响应助手
func NewResponseHelper(metrics *utils.APIMetrics) *ResponseHelper {
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	return &ResponseHelper{metrics: metrics}
}

// sanitizeErrorMessage 含有密钥相关字样的消息整体替换
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "secret", "token", "bearer"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string) {
	c.JSON(statusCode, &ErrorResponse{
		Error:     errorCode,
		Message:   sanitizeErrorMessage(message),
		RequestID: rh.getRequestID(c),
	})
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, message string) {
	rh.Error(c, http.StatusNotFound, ErrorNotFound, message)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message)
}

// BindError 请求体解析失败；超过大小限制时返回 413
func (rh *ResponseHelper) BindError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		rh.Error(c, http.StatusRequestEntityTooLarge, ErrorBodyTooLarge,
			fmt.Sprintf("请求体超过 %d 字节限制", tooLarge.Limit))
		return
	}
	rh.BadRequest(c, "无效的请求数据: "+err.Error())
}

// FromError 按 AppError 类型映射状态码
func (rh *ResponseHelper) FromError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsValidationError(err):
		status = http.StatusBadRequest
	case apperrors.IsNotFoundError(err):
		status = http.StatusNotFound
	case apperrors.IsUnavailableError(err):
		status = http.StatusServiceUnavailable
	case apperrors.IsTimeoutError(err):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		rh.metrics.RecordError(apperrors.CodeOf(err), "api")
		utils.GetLogger().Error("请求处理失败", map[string]interface{}{
			"path":       c.FullPath(),
			"request_id": rh.getRequestID(c),
			"error":      err.Error(),
		})
	}

	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	rh.Error(c, status, apperrors.CodeOf(err), message)
}

// FileResponse 文件下载响应
func (rh *ResponseHelper) FileResponse(c *gin.Context, content, filename, contentType string) {
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Data(http.StatusOK, contentType, []byte(content))
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
