package embedding

import (
	"fmt"
	"time"

	"ragdesk/backend/go/internal/config"
)

// New 根据配置创建并返回一个新的 Embedding 模型实例。
//
// 参数:
//
//	cfg: Embedding 配置，包含提供商、模型名称、API 密钥和基础 URL。
//
// 返回值:
//
//	Embedding: 新创建的 Embedding 模型实例。
//	error: 如果提供商不支持或模型初始化失败，则返回错误。
func New(cfg config.EmbeddingConfig) (Embedding, error) {
	timeout := config.Duration(cfg.Timeout, 60*time.Second)

	switch ModelType(cfg.Provider) {
	case Gemini:
		return NewGoogleModel(cfg.APIKey, cfg.Model)
	case OpenAI:
		return NewOpenAIModel(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case HuggingFace:
		return NewHuggingFaceModel(cfg.APIKey, cfg.Model, cfg.BaseURL, timeout)
	case Ollama:
		return NewOllamaModel(cfg.Model, cfg.BaseURL, timeout)
	case Hash:
		return NewHashModel(cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider) // 如果提供商不支持，返回错误。
	}
}
