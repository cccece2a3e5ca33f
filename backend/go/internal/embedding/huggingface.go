package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const huggingFaceDefaultURL = "https://api-inference.huggingface.co/pipeline/feature-extraction/"

// HuggingFaceModel 是一个用于 Hugging Face Inference API 的 Embedding 模型客户端。
type HuggingFaceModel struct {
	client  *http.Client // HTTP 客户端实例。
	model   string       // 要使用的模型名称。
	apiKey  string       // Hugging Face API 密钥。
	baseURL string       // Hugging Face Inference API 的基准 URL。
}

// NewHuggingFaceModel 创建一个新的 HuggingFaceModel 客户端。
//
// 参数:
//
//	apiKey: Hugging Face 的 API 密钥。
//	modelName: 要使用的模型名称。
//	baseURL: Inference API 的基准 URL，模型名称会拼接在其后。为空时使用官方 feature-extraction 地址。
//	timeout: 单次 HTTP 请求的超时时间。
//
// 返回值:
//
//	*HuggingFaceModel: 新创建的 HuggingFaceModel 客户端实例。
//	error: 如果创建客户端失败，则返回错误。
func NewHuggingFaceModel(apiKey, modelName, baseURL string, timeout time.Duration) (*HuggingFaceModel, error) {
	if baseURL == "" {
		baseURL = huggingFaceDefaultURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HuggingFaceModel{
		client:  &http.Client{Timeout: timeout},
		model:   modelName,
		apiKey:  apiKey,
		baseURL: baseURL,
	}, nil
}

// ModelName 返回模型名称。
func (m *HuggingFaceModel) ModelName() string { return m.model }

// Embed 使用 Hugging Face Inference API 为单个文本生成嵌入向量。
func (m *HuggingFaceModel) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch 使用 Hugging Face Inference API 为一批文本生成嵌入向量。
//
// 参数:
//
//	ctx: 上下文，用于控制操作的生命周期。
//	texts: 要生成嵌入向量的文本切片。
//
// 返回值:
//
//	[][]float32: 生成的嵌入向量切片。
//	error: 如果请求失败或返回的数量与输入不一致，则返回错误。
func (m *HuggingFaceModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]interface{}{
		"inputs":  texts,
		"options": map[string]bool{"wait_for_model": true}, // 等待模型加载。
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+m.model, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("huggingface returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var embeddings [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&embeddings); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("huggingface returned %d embeddings for %d inputs", len(embeddings), len(texts))
	}
	return embeddings, nil
}
