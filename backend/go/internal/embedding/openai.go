package embedding

import (
	"context"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIModel 是一个用于 OpenAI 兼容 API 的 Embedding 模型客户端。
type OpenAIModel struct {
	client *openai.Client // OpenAI 客户端实例。
	model  string         // 要使用的模型名称。
}

// NewOpenAIModel 创建一个新的 OpenAIModel 客户端。
//
// 参数:
//
//	apiKey: OpenAI 的 API 密钥。
//	modelName: 要使用的模型名称。
//	baseURL: 兼容服务的基础 URL，为空时使用官方地址。
//
// 返回值:
//
//	*OpenAIModel: 新创建的 OpenAIModel 客户端实例。
//	error: 如果创建客户端失败，则返回错误。
func NewOpenAIModel(apiKey, modelName, baseURL string) (*OpenAIModel, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(config)
	return &OpenAIModel{client: client, model: modelName}, nil
}

// ModelName 返回模型名称。
func (m *OpenAIModel) ModelName() string { return m.model }

// Embed 使用 OpenAI API 为单个文本生成嵌入向量。
func (m *OpenAIModel) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch 使用 OpenAI API 为一批文本生成嵌入向量。
//
// 参数:
//
//	ctx: 上下文，用于控制操作的生命周期。
//	texts: 要生成嵌入向量的文本切片。
//
// 返回值:
//
//	[][]float32: 生成的嵌入向量切片，顺序与输入一致。
//	error: 如果生成嵌入向量失败，则返回错误。
func (m *OpenAIModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(m.model),
	}

	resp, err := m.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	// 按 Index 放回原位，服务端不保证返回顺序。
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai returned embedding with out-of-range index %d", d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}
