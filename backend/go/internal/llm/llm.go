package llm

import (
	"context"
	"fmt"
	"time"

	"ragdesk/backend/go/internal/config"
)

// LLM 定义了所有大型语言模型客户端必须实现的通用接口。
type LLM interface {
	// Generate 发送一次非流式的补全请求，并返回模型生成的完整文本。
	Generate(ctx context.Context, prompt string) (string, error)
	// ModelName 返回模型名称。
	ModelName() string
}

// NewClient 是一个工厂函数，根据提供的配置创建并返回一个实现了 LLM 接口的客户端。
//
// 参数:
//
//	cfg: LLM 配置，包含提供商、模型名称、API 密钥和基础 URL。
//
// 返回值:
//
//	LLM: 新创建的客户端实例。
//	error: 如果提供商不支持或初始化失败，则返回错误。
func NewClient(cfg config.LLMConfig) (LLM, error) {
	switch cfg.Provider {
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an API key")
		}
		return NewGemini(context.Background(), cfg.Model, cfg.APIKey)
	case "openai":
		return NewOpenAI(cfg.Model, cfg.APIKey, cfg.BaseURL)
	case "ollama":
		return NewOllama(cfg.Model, cfg.BaseURL, config.Duration(cfg.Timeout, 60*time.Second))
	case "huggingface":
		return NewHuggingFace(cfg.Model, cfg.APIKey, cfg.BaseURL, config.Duration(cfg.Timeout, 60*time.Second))
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
