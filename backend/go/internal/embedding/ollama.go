package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaModel 是一个用于 Ollama API 的 Embedding 模型客户端。
type OllamaModel struct {
	client *ollama.Client // Ollama 客户端实例。
	model  string         // 要使用的模型名称。
}

// NewOllamaModel 创建一个新的 OllamaModel 客户端。
//
// 参数:
//
//	model: 要使用的模型名称。
//	baseURL: Ollama 服务的基准 URL。如果为空，则默认为 "http://localhost:11434"。
//	timeout: 单次 HTTP 请求的超时时间。
//
// 返回值:
//
//	*OllamaModel: 新创建的 OllamaModel 客户端实例。
//	error: 如果基准 URL 无效，则返回错误。
func NewOllamaModel(model, baseURL string, timeout time.Duration) (*OllamaModel, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	client := ollama.NewClient(parsedURL, &http.Client{Timeout: timeout})
	return &OllamaModel{client: client, model: model}, nil
}

// ModelName 返回模型名称。
func (m *OllamaModel) ModelName() string { return m.model }

// Embed 为单个文本生成嵌入向量。
func (m *OllamaModel) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch 使用 Ollama 的批量嵌入功能为一批文本生成嵌入向量。
func (m *OllamaModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := m.client.Embed(ctx, &ollama.EmbedRequest{
		Model: m.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get batch embeddings from ollama: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}
