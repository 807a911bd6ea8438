// internal/llm/providers/glm/glm.go
package glm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Corphon/ClipStudy/internal/llm"
)

const (
	defaultBaseURL = "https://open.bigmodel.cn/api/paas/v4"
	defaultModel   = "glm-4.6"
	maxErrorBody   = 2048
)

func init() {
	llm.Register("glm", func() llm.Provider {
		return &Provider{baseURL: defaultBaseURL}
	})
}

// Provider 智谱 GLM chat/completions
type Provider struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	defaultModel string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := strings.TrimSpace(config[llm.ConfigAPIKey])
	if apiKey == "" {
		return fmt.Errorf("智谱GLM: %w", llm.ErrMissingAPIKey)
	}

	p.apiKey = apiKey
	p.client = &http.Client{}

	p.defaultModel = defaultModel
	if model := strings.TrimSpace(config[llm.ConfigDefaultModel]); model != "" {
		p.defaultModel = model
	}
	if baseURL := strings.TrimSpace(config[llm.ConfigBaseURL]); baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	return nil
}

func (p *Provider) GetName() string {
	return "智谱GLM"
}

func (p *Provider) GetDefaultModel() string {
	return p.defaultModel
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	requestBody := map[string]interface{}{
		"model":       model,
		"messages":    llm.BuildMessages(req),
		"stream":      false,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		requestBody["max_tokens"] = req.MaxTokens
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("智谱GLM 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, fmt.Errorf("智谱GLM API错误(%d): %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var response chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("智谱GLM 响应解析失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, llm.ErrEmptyResponse
	}

	text := strings.TrimSpace(response.Choices[0].Message.Content)
	if text == "" {
		return nil, llm.ErrEmptyResponse
	}

	return &llm.ChatResponse{
		Text:         text,
		FinishReason: response.Choices[0].FinishReason,
		TokensUsed:   response.Usage.TotalTokens,
		ModelName:    response.Model,
		ProviderName: p.GetName(),
	}, nil
}
