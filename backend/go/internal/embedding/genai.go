package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleModel 是一个用于 Google GenAI Embedding API 的客户端。
type GoogleModel struct {
	model *genai.EmbeddingModel
	name  string
}

// NewGoogleModel 创建并返回一个新的 GoogleModel 客户端实例。
//
// 参数:
//
//	apiKey: Google GenAI 的 API 密钥。
//	modelName: 要使用的 Embedding 模型名称。
//
// 返回值:
//
//	*GoogleModel: 新创建的 GoogleModel 客户端实例。
//	error: 如果无法创建 GenAI 客户端，则返回错误。
func NewGoogleModel(apiKey string, modelName string) (*GoogleModel, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GoogleModel{
		model: client.EmbeddingModel(modelName),
		name:  modelName,
	}, nil
}

// ModelName 返回模型名称。
func (m *GoogleModel) ModelName() string { return m.name }

// Embed 为单个文本生成嵌入向量。
func (m *GoogleModel) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := m.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("no embedding returned")
	}
	return res.Embedding.Values, nil
}

// EmbedBatch 为一批文本生成嵌入向量。
func (m *GoogleModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batch := m.model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := m.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(res.Embeddings), len(texts))
	}

	embeddings := make([][]float32, 0, len(res.Embeddings))
	for _, emb := range res.Embeddings {
		embeddings = append(embeddings, emb.Values)
	}
	return embeddings, nil
}
