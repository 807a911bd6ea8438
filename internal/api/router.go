// internal/api/router.go
package api

import (
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ClipStudy/internal/config"
	"github.com/Corphon/ClipStudy/internal/di"
)

// 模型相关接口的限流：每个 IP 每分钟 60 次
const (
	llmRateLimit  = 60
	llmRateWindow = time.Minute
)

// SetupRouter 配置HTTP路由
func SetupRouter(container *di.Container, cfg *config.AppConfig) (*gin.Engine, error) {
	handler, err := NewHandler(container)
	if err != nil {
		return nil, err
	}

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20

	r.Use(requestIDMiddleware())
	r.Use(recoveryMiddleware(handler.Response))
	r.Use(requestLogMiddleware(handler.Metrics))
	r.Use(corsMiddleware())

	// 截图、笔记与导出文件；db.json 与 config.json 不对外提供
	for _, dir := range []string{"media", "notes", "exports"} {
		r.Static("/data/"+dir, filepath.Join(cfg.DataDir, dir))
	}

	// 实时推送
	r.GET("/ws/entries", handler.Hub.ServeWS)

	// 上传走自己的大小限制，不受 JSON 请求体上限约束
	r.POST("/api/upload", handler.UploadImage)

	limiter := NewRateLimiter()
	llmLimit := RateLimitByIP(limiter, llmRateLimit, llmRateWindow, handler.Response)

	api := r.Group("/api")
	api.Use(bodyLimitMiddleware(DefaultBodyLimit))
	{
		api.GET("/health", handler.Health)
		api.POST("/translate", llmLimit, handler.Translate)

		// ===============================
		// 条目
		// ===============================
		entriesGroup := api.Group("/entries")
		{
			entriesGroup.GET("", handler.ListEntries)
			entriesGroup.POST("", handler.CreateEntry)
			entriesGroup.GET("/:id", handler.GetEntry)
			entriesGroup.PUT("/:id", handler.UpdateEntry)
			entriesGroup.DELETE("/:id", handler.DeleteEntry)
			entriesGroup.GET("/:id/segments", handler.GetSegments)
			entriesGroup.PUT("/:id/alignment", handler.PutAlignment)
			entriesGroup.DELETE("/:id/alignment/:orig", handler.DeleteAlignment)
		}

		// ===============================
		// 标签
		// ===============================
		api.GET("/tags", handler.GetTags)
		api.GET("/tags/tree", handler.GetTagTree)

		api.GET("/export", handler.Export)
		api.GET("/notes/:date", handler.GetNote)

		// ===============================
		// 复习
		// ===============================
		reviewGroup := api.Group("/review")
		{
			reviewGroup.GET("/words", handler.ReviewWords)
			reviewGroup.POST("/chat", llmLimit, handler.ReviewChat)
		}

		// ===============================
		// 设置与指标
		// ===============================
		api.GET("/settings", handler.GetSettings)
		api.PUT("/settings", handler.UpdateSettings)
		api.GET("/metrics", handler.GetMetrics)
	}

	return r, nil
}
