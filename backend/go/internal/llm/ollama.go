package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	olla "github.com/ollama/ollama/api"
)

// Ollama 是一个用于 Ollama API 的 LLM 客户端。
type Ollama struct {
	client *olla.Client // Ollama 客户端实例。
	model  string       // 要使用的模型名称。
}

// NewOllama 创建一个新的 Ollama 客户端。
//
// 参数:
//
//	model: 要使用的模型名称。
//	baseURL: Ollama 服务的基准 URL。如果为空，则默认为 "http://localhost:11434"。
//	timeout: HTTP 客户端的超时时间。
//
// 返回值:
//
//	*Ollama: 新创建的 Ollama 客户端实例。
//	error: 如果基准 URL 无效，则返回错误。
func NewOllama(model, baseURL string, timeout time.Duration) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	client := olla.NewClient(parsedURL, &http.Client{Timeout: timeout})
	return &Ollama{client: client, model: model}, nil
}

// ModelName 返回模型名称。
func (o *Ollama) ModelName() string { return o.model }

// Generate 使用 Ollama 的 /api/generate 接口生成内容，关闭流式传输。
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	var sb strings.Builder
	err := o.client.Generate(ctx, &olla.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: &[]bool{false}[0], // 设置为非流式传输。
	}, func(resp olla.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate content with ollama: %w", err)
	}
	return sb.String(), nil
}
