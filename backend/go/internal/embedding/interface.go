package embedding

import "context"

// Embedding 定义了所有 embedding 模型需要实现的接口。
type Embedding interface {
	// Embed 为单个文本生成嵌入向量。
	//
	// 参数:
	//   ctx: 上下文，用于控制操作的生命周期。
	//   text: 要生成嵌入向量的文本。
	//
	// 返回值:
	//   []float32: 生成的嵌入向量。
	//   error: 如果生成嵌入向量失败，则返回错误。
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 为一批文本生成嵌入向量，返回结果与输入一一对应。
	//
	// 参数:
	//   ctx: 上下文，用于控制操作的生命周期。
	//   texts: 要生成嵌入向量的文本切片。
	//
	// 返回值:
	//   [][]float32: 生成的嵌入向量切片。
	//   error: 如果生成嵌入向量失败，则返回错误。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName 返回模型名称，该名称会被记录到索引清单中。
	ModelName() string
}

// ModelType 是一个枚举类型，用于表示不同的模型厂商。
type ModelType string

const (
	OpenAI      ModelType = "openai"      // OpenAI 模型类型。
	Gemini      ModelType = "gemini"      // Google Gemini 模型类型。
	Ollama      ModelType = "ollama"      // Ollama 模型类型。
	HuggingFace ModelType = "huggingface" // HuggingFace 模型类型。
	Hash        ModelType = "hash"        // 本地特征哈希模型，不依赖外部服务。
)
