// internal/llm/providers/siliconflow/siliconflow.go
package siliconflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Corphon/ClipStudy/internal/llm"
)

const (
	defaultBaseURL = "https://api.siliconflow.cn/v1"
	defaultModel   = "zai-org/GLM-4.6"
)

func init() {
	llm.Register("siliconflow", func() llm.Provider {
		return &Provider{}
	})
}

// Provider 硅基流动，OpenAI 兼容接口，经由 eino ChatModel 调用
type Provider struct {
	chatModel    model.BaseChatModel
	defaultModel string
	baseURL      string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := strings.TrimSpace(config[llm.ConfigAPIKey])
	if apiKey == "" {
		return fmt.Errorf("SiliconFlow: %w", llm.ErrMissingAPIKey)
	}

	p.defaultModel = defaultModel
	if m := strings.TrimSpace(config[llm.ConfigDefaultModel]); m != "" {
		p.defaultModel = m
	}
	p.baseURL = defaultBaseURL
	if u := strings.TrimSpace(config[llm.ConfigBaseURL]); u != "" {
		p.baseURL = strings.TrimRight(u, "/")
	}

	cm, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
		APIKey:  apiKey,
		BaseURL: p.baseURL,
		Model:   p.defaultModel,
	})
	if err != nil {
		return fmt.Errorf("创建 SiliconFlow 模型失败: %w", err)
	}
	p.chatModel = cm
	return nil
}

func (p *Provider) GetName() string {
	return "SiliconFlow"
}

func (p *Provider) GetDefaultModel() string {
	return p.defaultModel
}

func toSchemaMessages(msgs []llm.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, schema.SystemMessage(m.Content))
		case "assistant":
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	opts := []model.Option{model.WithTemperature(req.Temperature)}
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	msg, err := p.chatModel.Generate(ctx, toSchemaMessages(llm.BuildMessages(req)), opts...)
	if err != nil {
		return nil, fmt.Errorf("SiliconFlow 请求失败: %w", err)
	}
	if msg == nil {
		return nil, llm.ErrEmptyResponse
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return nil, llm.ErrEmptyResponse
	}

	resp := &llm.ChatResponse{
		Text:         text,
		ModelName:    p.defaultModel,
		ProviderName: p.GetName(),
	}
	if req.Model != "" {
		resp.ModelName = req.Model
	}
	if meta := msg.ResponseMeta; meta != nil {
		resp.FinishReason = meta.FinishReason
		if meta.Usage != nil {
			resp.TokensUsed = meta.Usage.TotalTokens
		}
	}
	return resp, nil
}
