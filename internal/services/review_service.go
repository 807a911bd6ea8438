// internal/services/review_service.go
package services

import (
	"context"
	"strings"

	"github.com/Corphon/ClipStudy/internal/config"
	"github.com/Corphon/ClipStudy/internal/llm"
	"github.com/Corphon/ClipStudy/internal/models"
	"github.com/Corphon/ClipStudy/internal/text"
	"github.com/Corphon/ClipStudy/internal/utils"
)

const (
	DefaultWordLimit   = 50
	DefaultReviewLevel = "N5-N4"
	reviewTemperature  = 0.6
	fallbackSampleSize = 8
)

// WordsQuery 复习词汇的取数范围
type WordsQuery struct {
	Date  string `json:"date"`
	Start string `json:"start"`
	End   string `json:"end"`
	Limit int    `json:"limit"`
}

// ReviewChatRequest 复习对话请求
type ReviewChatRequest struct {
	Messages      []models.ChatMessage `json:"messages"`
	Date          string               `json:"date"`
	Start         string               `json:"start"`
	End           string               `json:"end"`
	Limit         int                  `json:"limit"`
	Level         string               `json:"level"`
	Encouragement *bool                `json:"encouragement"`
}

// ReviewService 词汇复习与对话教练
type ReviewService struct {
	entries *EntryService
	llm     *LLMService
	metrics *utils.APIMetrics
}

// NewReviewService 创建复习服务
func NewReviewService(entries *EntryService, llmService *LLMService, metrics *utils.APIMetrics) *ReviewService {
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	return &ReviewService{entries: entries, llm: llmService, metrics: metrics}
}

// sourceEntries 指定日期时取当天，否则取全部并按起止日期（需同时给出）过滤
func (s *ReviewService) sourceEntries(q WordsQuery) []models.Entry {
	if q.Date != "" {
		return s.entries.ListByDate(q.Date)
	}
	all := s.entries.Search("", "")
	if q.Start == "" || q.End == "" {
		return all
	}
	return text.EntryFilter{Start: q.Start, End: q.End}.Apply(all)
}

// ExtractWords 统计词频并返回前 limit 个词
func (s *ReviewService) ExtractWords(q WordsQuery) models.WordsResult {
	if q.Limit <= 0 {
		q.Limit = DefaultWordLimit
	}
	entries := s.sourceEntries(q)
	counts := text.CountWords(entries)

	n := min(q.Limit, len(counts))
	words := make([]string, 0, n)
	for _, c := range counts[:n] {
		words = append(words, c.Word)
	}
	return models.WordsResult{
		Words:       words,
		Total:       len(counts),
		SourceCount: len(entries),
	}
}

// BuildSystemPrompt 复习教练的系统提示
func BuildSystemPrompt(words []string, level string, encouragement bool) string {
	if strings.TrimSpace(level) == "" {
		level = DefaultReviewLevel
	}
	lines := []string{
		"你是一位友好、耐心且鼓励性的英语学习教练，帮助我以对话的方式复习当天条目里的单词。",
		"要求：",
		"1) 用中文解释为主，结合英文例句；每次回复尽量简洁，控制在 6-10 句以内。",
		"2) 主动发起小测验：给出 2-3 个简短问题（选择或填空），引导我回答。",
		"3) 纠错时要温柔，给出正确示例，并点出易错点。",
		"4) 结合我给出的上下文词汇进行练习，不必一次覆盖全部。",
	}
	if encouragement {
		lines = append(lines, "5) 每次结尾给出一句鼓励或学习建议。")
	}
	lines = append(lines, "目标水平："+level)

	wordList := ""
	if len(words) > 0 {
		wordList = "\n本次复习的重点词汇（仅供参考，可选择其中若干）：\n" + bulletList(words)
	}
	lines = append(lines, wordList)
	return strings.Join(lines, "\n")
}

func bulletList(words []string) string {
	items := make([]string, 0, len(words))
	for _, w := range words {
		items = append(items, "- "+w)
	}
	return strings.Join(items, "\n")
}

// FallbackCoachReply 无可用引擎时的规则教练回复
func FallbackCoachReply(words []string) string {
	sample := bulletList(words[:min(fallbackSampleSize, len(words))])
	if sample == "" {
		sample = "- (暂无词汇，上下文为空，可先告诉我你今天想复习的内容)"
	}
	return strings.Join([]string{
		"我们来做一个小型单词复习，请先试着用下面的词造句或选择含义：",
		sample,
		"小测验：",
		"1) 请用其中任意两个词造一个英文句子。",
		"2) 选择：下列哪个词表示“示例/样本”？ A) sample B) forget C) push",
		"3) 填空：Please ____ this word in a sentence.",
		"期待你的回答，我会根据你的回复给出纠正与讲解。加油，持续学习一定会看到进步！",
	}, "\n")
}

// chatMessages 只保留 user/assistant 的非空消息
func chatMessages(msgs []models.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != RoleUser && role != RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// Chat 依次尝试已配置的引擎，全部不可用时返回规则教练回复
func (s *ReviewService) Chat(ctx context.Context, req ReviewChatRequest) (string, error) {
	encouragement := req.Encouragement == nil || *req.Encouragement
	result := s.ExtractWords(WordsQuery{Date: req.Date, Start: req.Start, End: req.End, Limit: req.Limit})

	chatReq := llm.ChatRequest{
		SystemPrompt: BuildSystemPrompt(result.Words, req.Level, encouragement),
		Messages:     chatMessages(req.Messages),
		Temperature:  reviewTemperature,
	}

	collector := s.metrics.Collector()
	collector.IncrementCounter("review_chats")
	logger := utils.GetLogger()

	for _, engine := range []string{config.EngineZhipu, config.EngineSiliconFlow} {
		if !s.llm.HasEngine(engine) {
			continue
		}
		reply, err := s.llm.Chat(ctx, engine, chatReq)
		if err == nil {
			return reply, nil
		}
		logger.Warn("复习对话调用失败", map[string]interface{}{
			"engine": engine,
			"error":  err.Error(),
		})
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	collector.IncrementCounter("review_fallbacks")
	return FallbackCoachReply(result.Words), nil
}
