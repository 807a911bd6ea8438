// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	apperrors "github.com/Corphon/ClipStudy/internal/errors"
	"github.com/Corphon/ClipStudy/internal/utils"
)

// 引擎名称，同时也是 preferredEngine 的取值
const (
	EngineZhipu       = "zhipu"
	EngineSiliconFlow = "siliconflow"
)

// 默认值
const (
	DefaultPort             = "3001"
	DefaultZhipuModel       = "glm-4.6"
	DefaultSiliconFlowModel = "zai-org/GLM-4.6"
	DefaultZhipuBaseURL     = "https://open.bigmodel.cn/api/paas/v4"
	DefaultSiliconBaseURL   = "https://api.siliconflow.cn/v1"
	DefaultLLMTimeout       = 60
	DefaultMaxUploadMB      = 10
	configFileName          = "config.json"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
	envEngines    map[string]EngineConfig   // 环境变量给出的引擎配置
	overrides     map[string]engineOverride // 设置接口修改过的字段
)

// EngineConfig 单个模型后端的配置
type EngineConfig struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Configured 是否具备调用条件
func (e EngineConfig) Configured() bool {
	return strings.TrimSpace(e.APIKey) != ""
}

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置，只来自环境变量
	Port              string `json:"port"`
	DataDir           string `json:"data_dir"`
	LogDir            string `json:"log_dir"`
	DebugMode         bool   `json:"debug_mode"`
	SecretKey         string `json:"-"`
	MigrateFromDir    string `json:"migrate_from_dir,omitempty"`
	LLMTimeoutSeconds int    `json:"llm_timeout_seconds"`
	MaxUploadMB       int    `json:"max_upload_mb"`

	// LLM 引擎，可通过设置接口修改并持久化
	Engines map[string]EngineConfig `json:"engines"`
}

// Engine 返回指定引擎配置
func (c *AppConfig) Engine(name string) (EngineConfig, bool) {
	e, ok := c.Engines[name]
	return e, ok
}

// engineOverride 通过设置接口修改过的字段；空字段沿用环境变量
type engineOverride struct {
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

func (o engineOverride) isEmpty() bool {
	return o.APIKey == "" && o.Model == "" && o.BaseURL == ""
}

func (o engineOverride) apply(e EngineConfig) EngineConfig {
	if o.APIKey != "" {
		e.APIKey = o.APIKey
	}
	if o.Model != "" {
		e.Model = o.Model
	}
	if o.BaseURL != "" {
		e.BaseURL = o.BaseURL
	}
	return e
}

// persistedConfig config.json 中保存的部分，只包含用户修改过的字段
type persistedConfig struct {
	Engines map[string]engineOverride `json:"engines"`
}

// Load 从环境变量加载配置
func Load() (*AppConfig, error) {
	// .env 可选
	_ = godotenv.Load()

	cfg := &AppConfig{
		Port:              getEnv("PORT", DefaultPort),
		DataDir:           getEnv("CLIPSTUDY_DATA_DIR", "data"),
		LogDir:            getEnv("LOG_DIR", "logs"),
		DebugMode:         getEnvBool("DEBUG_MODE", false),
		SecretKey:         os.Getenv("CLIPSTUDY_SECRET_KEY"),
		MigrateFromDir:    os.Getenv("MIGRATE_FROM_DIR"),
		LLMTimeoutSeconds: getEnvInt("LLM_TIMEOUT_SECONDS", DefaultLLMTimeout),
		MaxUploadMB:       getEnvInt("MAX_UPLOAD_MB", DefaultMaxUploadMB),
		Engines: map[string]EngineConfig{
			EngineZhipu: {
				Provider: "glm",
				APIKey:   os.Getenv("ZHIPU_API_KEY"),
				Model:    getEnv("MODEL_ZHIPU", DefaultZhipuModel),
				BaseURL:  getEnv("ZHIPU_BASE_URL", DefaultZhipuBaseURL),
			},
			EngineSiliconFlow: {
				Provider: "siliconflow",
				APIKey:   os.Getenv("SILICONFLOW_API_KEY"),
				Model:    getEnv("MODEL_SILICONFLOW", DefaultSiliconFlowModel),
				BaseURL:  getEnv("SILICONFLOW_BASE_URL", DefaultSiliconBaseURL),
			},
		},
	}

	if cfg.LLMTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("LLM_TIMEOUT_SECONDS 必须为正数: %d", cfg.LLMTimeoutSeconds)
	}
	if cfg.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB 必须为正数: %d", cfg.MaxUploadMB)
	}

	return cfg, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		utils.GetLogger().Warn("环境变量不是整数，使用默认值", map[string]interface{}{
			"key":     key,
			"value":   value,
			"default": defaultValue,
		})
		return defaultValue
	}
	return n
}

// InitConfig 初始化配置管理器；dataDir 为空时使用环境变量中的数据目录
func InitConfig(dataDir string) error {
	baseConfig, err := Load()
	if err != nil {
		return err
	}
	if dataDir != "" {
		baseConfig.DataDir = dataDir
	}

	if err := os.MkdirAll(baseConfig.DataDir, 0755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	configFile = filepath.Join(baseConfig.DataDir, configFileName)
	envEngines = copyEngines(baseConfig.Engines)
	overrides = loadOverrides(configFile, baseConfig.SecretKey)

	for name, o := range overrides {
		if base, ok := baseConfig.Engines[name]; ok {
			baseConfig.Engines[name] = o.apply(base)
		}
	}

	currentConfig = baseConfig
	return saveLocked()
}

// loadOverrides 读取 config.json 中的覆盖项；无法解密的密钥被丢弃
func loadOverrides(path, secret string) map[string]engineOverride {
	out := make(map[string]engineOverride)
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}

	logger := utils.GetLogger()
	var saved persistedConfig
	if err := json.Unmarshal(data, &saved); err != nil {
		logger.Warn("配置文件解析失败，忽略", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return out
	}

	for name, o := range saved.Engines {
		if o.APIKey != "" {
			key, err := utils.DecryptSecret(o.APIKey, secret)
			if err != nil {
				logger.Warn("API 密钥解密失败，使用环境变量", map[string]interface{}{
					"engine": name,
					"error":  err.Error(),
				})
				key = ""
			}
			o.APIKey = key
		}
		if !o.isEmpty() {
			out[name] = o
		}
	}
	return out
}

func copyEngines(src map[string]EngineConfig) map[string]EngineConfig {
	dst := make(map[string]EngineConfig, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		cfg, err := Load()
		if err != nil {
			return &AppConfig{
				Port:              DefaultPort,
				DataDir:           "data",
				LogDir:            "logs",
				LLMTimeoutSeconds: DefaultLLMTimeout,
				MaxUploadMB:       DefaultMaxUploadMB,
				Engines:           map[string]EngineConfig{},
			}
		}
		return cfg
	}

	return copyConfig(currentConfig)
}

func copyConfig(src *AppConfig) *AppConfig {
	dst := *src
	dst.Engines = copyEngines(src.Engines)
	return &dst
}

// EngineUpdate 设置接口的更新内容，nil 字段保持不变，空字符串恢复为环境变量的值
type EngineUpdate struct {
	APIKey  *string `json:"apiKey"`
	Model   *string `json:"model"`
	BaseURL *string `json:"baseURL"`
}

// UpdateEngineConfig 更新并持久化某个引擎的配置
func UpdateEngineConfig(name string, update EngineUpdate) (*AppConfig, error) {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return nil, apperrors.NewUnavailableError("配置系统未初始化", nil)
	}
	base, ok := envEngines[name]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("未知引擎: %s", name), nil)
	}

	o := overrides[name]
	if update.APIKey != nil {
		o.APIKey = strings.TrimSpace(*update.APIKey)
	}
	if update.Model != nil {
		o.Model = strings.TrimSpace(*update.Model)
	}
	if update.BaseURL != nil {
		o.BaseURL = strings.TrimRight(strings.TrimSpace(*update.BaseURL), "/")
	}
	if o.isEmpty() {
		delete(overrides, name)
	} else {
		overrides[name] = o
	}
	currentConfig.Engines[name] = o.apply(base)

	if err := saveLocked(); err != nil {
		return nil, err
	}
	return copyConfig(currentConfig), nil
}

func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	out := persistedConfig{Engines: make(map[string]engineOverride, len(overrides))}
	for name, o := range overrides {
		// 未配置加密密钥时不落盘明文，密钥只保留在内存中
		if currentConfig.SecretKey == "" {
			o.APIKey = ""
		} else {
			key, err := utils.EncryptSecret(o.APIKey, currentConfig.SecretKey)
			if err != nil {
				return fmt.Errorf("加密 API 密钥失败: %w", err)
			}
			o.APIKey = key
		}
		if !o.isEmpty() {
			out.Engines[name] = o
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	tmp := configFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("保存配置失败: %w", err)
	}
	if err := os.Rename(tmp, configFile); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("保存配置失败: %w", err)
	}
	return nil
}
