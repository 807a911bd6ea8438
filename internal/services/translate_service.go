// internal/services/translate_service.go
package services

import (
	"context"
	"strings"

	"github.com/Corphon/ClipStudy/internal/config"
	apperrors "github.com/Corphon/ClipStudy/internal/errors"
	"github.com/Corphon/ClipStudy/internal/llm"
	"github.com/Corphon/ClipStudy/internal/utils"
)

// TranslationSystemPrompt 英译中系统提示
const TranslationSystemPrompt = "你是一个严谨的英语到中文翻译助手。请按句子进行翻译，尽量直译并保留关键英文术语（括注或保留英文词）。输出仅给中文译文，不要额外解释。"

const (
	translateTemperature = 0.2
	EngineAuto           = "auto"
)

// TranslateOptions 翻译选项
type TranslateOptions struct {
	PreferredEngine string `json:"preferredEngine"`
	OfflineOnly     bool   `json:"offlineOnly"`
}

// TranslateService 英译中，主备两个引擎
type TranslateService struct {
	llm     *LLMService
	metrics *utils.APIMetrics
}

// NewTranslateService 创建翻译服务
func NewTranslateService(llmService *LLMService, metrics *utils.APIMetrics) *TranslateService {
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	return &TranslateService{llm: llmService, metrics: metrics}
}

// engineChain 根据偏好返回尝试顺序
func engineChain(preferred string) []string {
	switch strings.ToLower(strings.TrimSpace(preferred)) {
	case config.EngineZhipu:
		return []string{config.EngineZhipu}
	case config.EngineSiliconFlow:
		return []string{config.EngineSiliconFlow}
	default:
		return EngineOrder
	}
}

// Translate 返回中文译文；离线模式、空文本或全部引擎失败时返回空串
func (s *TranslateService) Translate(ctx context.Context, text string, opts TranslateOptions) string {
	if opts.OfflineOnly || strings.TrimSpace(text) == "" {
		return ""
	}

	req := llm.ChatRequest{
		SystemPrompt: TranslationSystemPrompt,
		Messages:     []llm.Message{{Role: RoleUser, Content: text}},
		Temperature:  translateTemperature,
	}

	logger := utils.GetLogger()
	collector := s.metrics.Collector()
	chain := engineChain(opts.PreferredEngine)
	for i, engine := range chain {
		translated, err := s.llm.ChatCached(ctx, engine, req)
		if err == nil {
			collector.IncrementCounter("translate_success_" + engine)
			if i > 0 {
				collector.IncrementCounter("translate_fallbacks")
			}
			return translated
		}
		collector.IncrementCounter("translate_failure_" + engine)
		if apperrors.IsTimeoutError(err) {
			collector.IncrementCounter("translate_timeout_" + engine)
		}
		logger.Warn("翻译失败", map[string]interface{}{
			"engine": engine,
			"error":  err.Error(),
		})
		if ctx.Err() != nil {
			break
		}
	}
	return ""
}
