// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "invalid_request"
	ErrorNotFound      = "not_found"
	ErrorInternalError = "internal_error"

	// 请求限制
	ErrorBodyTooLarge = "body_too_large"
	ErrorRateLimited  = "rate_limited"

	// 上传
	ErrorNoFile       = "No file"
	ErrorFileTooLarge = "file_too_large"

	// 复习对话
	ErrorChatFailed = "chat_failed"
)
