// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Corphon/ClipStudy/internal/config"
	apperrors "github.com/Corphon/ClipStudy/internal/errors"
	"github.com/Corphon/ClipStudy/internal/llm"
	_ "github.com/Corphon/ClipStudy/internal/llm/providers/glm"
	_ "github.com/Corphon/ClipStudy/internal/llm/providers/siliconflow"
	"github.com/Corphon/ClipStudy/internal/utils"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// EngineOrder 自动模式下的尝试顺序
var EngineOrder = []string{config.EngineZhipu, config.EngineSiliconFlow}

var ErrEngineNotReady = errors.New("模型引擎未就绪")

// EngineStatus 设置页展示的引擎状态
type EngineStatus struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	BaseURL  string `json:"baseURL"`
	APIKey   string `json:"apiKey"`
	Ready    bool   `json:"ready"`
	State    string `json:"state"`
}

type engineState struct {
	provider llm.Provider
	cfg      config.EngineConfig
	state    string
}

// LLMService 按引擎名管理模型提供者，附带超时、指标与结果缓存
type LLMService struct {
	mu      sync.RWMutex
	engines map[string]*engineState
	timeout time.Duration
	metrics *utils.APIMetrics
	cache   *LLMCache
}

// LLMCache 相同请求在有效期内直接复用结果
type LLMCache struct {
	cache      map[string]*CacheEntry
	mutex      sync.RWMutex
	expiration time.Duration
	maxSize    int
}

type CacheEntry struct {
	Response  string
	CreatedAt time.Time
}

// NewLLMService 按配置初始化所有引擎；未配置密钥的引擎保持未就绪
func NewLLMService(cfg *config.AppConfig, metrics *utils.APIMetrics) *LLMService {
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	s := &LLMService{
		engines: make(map[string]*engineState),
		timeout: time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
		metrics: metrics,
		cache: &LLMCache{
			cache:      make(map[string]*CacheEntry),
			expiration: 30 * time.Minute,
			maxSize:    500,
		},
	}
	if s.timeout <= 0 {
		s.timeout = config.DefaultLLMTimeout * time.Second
	}
	s.Configure(cfg)
	return s
}

// Configure 根据配置重建引擎（设置更新后调用）
func (s *LLMService) Configure(cfg *config.AppConfig) {
	logger := utils.GetLogger()
	engines := make(map[string]*engineState, len(cfg.Engines))

	for name, ec := range cfg.Engines {
		st := &engineState{cfg: ec, state: "API key not configured"}
		if ec.Configured() {
			provider, err := llm.GetProvider(ec.Provider, map[string]string{
				llm.ConfigAPIKey:       ec.APIKey,
				llm.ConfigDefaultModel: ec.Model,
				llm.ConfigBaseURL:      ec.BaseURL,
			})
			if err != nil {
				st.state = fmt.Sprintf("Initialization failed: %v", err)
				logger.Warn("模型引擎初始化失败", map[string]interface{}{"engine": name, "error": err.Error()})
			} else {
				st.provider = provider
				st.state = "Ready"
			}
		}
		engines[name] = st
	}

	s.mu.Lock()
	s.engines = engines
	s.mu.Unlock()
	s.cache.clear()
}

// SetProvider 直接指定引擎的提供者
func (s *LLMService) SetProvider(name string, provider llm.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &engineState{provider: provider, state: "Ready"}
	if provider != nil {
		st.cfg = config.EngineConfig{Provider: provider.GetName(), APIKey: "set", Model: provider.GetDefaultModel()}
	} else {
		st.state = "API key not configured"
	}
	s.engines[name] = st
}

// HasEngine 引擎是否可调用
func (s *LLMService) HasEngine(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.engines[name]
	return ok && st.provider != nil
}

// Status 返回引擎状态（密钥已脱敏），按 EngineOrder 排序
func (s *LLMService) Status() []EngineStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EngineStatus, 0, len(s.engines))
	for name, st := range s.engines {
		out = append(out, EngineStatus{
			Name:     name,
			Provider: st.cfg.Provider,
			Model:    st.cfg.Model,
			BaseURL:  st.cfg.BaseURL,
			APIKey:   utils.MaskSecret(st.cfg.APIKey),
			Ready:    st.provider != nil,
			State:    st.state,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return engineRank(out[i].Name) < engineRank(out[j].Name)
	})
	return out
}

func engineRank(name string) int {
	for i, n := range EngineOrder {
		if n == name {
			return i
		}
	}
	return len(EngineOrder)
}

// Chat 调用指定引擎，返回去空白后的文本
func (s *LLMService) Chat(ctx context.Context, engine string, req llm.ChatRequest) (string, error) {
	s.mu.RLock()
	st, ok := s.engines[engine]
	s.mu.RUnlock()
	if !ok || st.provider == nil {
		return "", fmt.Errorf("%w: %s", ErrEngineNotReady, engine)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := st.provider.Chat(ctx, req)
	model := req.Model
	if model == "" {
		model = st.provider.GetDefaultModel()
	}
	s.metrics.RecordLLMRequest(engine, model, err == nil, time.Since(start))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperrors.NewTimeoutError(fmt.Sprintf("模型请求超时: %s", engine), err)
		}
		return "", err
	}
	return resp.Text, nil
}

// ChatCached 与 Chat 相同，但相同的引擎与请求在有效期内复用结果
func (s *LLMService) ChatCached(ctx context.Context, engine string, req llm.ChatRequest) (string, error) {
	key := cacheKey(engine, req)
	if text, ok := s.cache.get(key); ok {
		s.metrics.Collector().IncrementCounter("llm_cache_hits")
		return text, nil
	}

	text, err := s.Chat(ctx, engine, req)
	if err != nil {
		return "", err
	}
	s.cache.put(key, text)
	return text, nil
}

// cacheKey 生成缓存键
func cacheKey(engine string, req llm.ChatRequest) string {
	h := md5.New()
	h.Write([]byte(engine))
	h.Write([]byte{0})
	h.Write([]byte(req.Model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(float64(req.Temperature), 'f', 3, 32)))
	h.Write([]byte{0})
	h.Write([]byte(req.SystemPrompt))
	for _, m := range req.Messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{1})
		h.Write([]byte(m.Content))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (c *LLMCache) get(key string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists || time.Since(entry.CreatedAt) > c.expiration {
		return "", false
	}
	return entry.Response, true
}

func (c *LLMCache) put(key, response string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[key] = &CacheEntry{Response: response, CreatedAt: time.Now()}
	if len(c.cache) > c.maxSize {
		c.cleanupOldest(c.maxSize / 10)
	}
}

func (c *LLMCache) clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache = make(map[string]*CacheEntry)
}

// cleanupOldest 清理最旧的缓存条目，调用方需持有锁
func (c *LLMCache) cleanupOldest(count int) {
	type keyAge struct {
		key string
		age time.Time
	}

	entries := make([]keyAge, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, keyAge{k, v.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].age.Before(entries[j].age)
	})

	for i := 0; i < min(count, len(entries)); i++ {
		delete(c.cache, entries[i].key)
	}
}
