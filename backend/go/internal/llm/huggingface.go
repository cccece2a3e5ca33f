package llm

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

// HuggingFace 是一个用于 Hugging Face Inference API 的 LLM 客户端。
type HuggingFace struct {
	client  *http.Client // HTTP 客户端实例。
	model   string       // 要使用的模型名称。
	apiKey  string       // Hugging Face API 密钥。
	baseURL string       // Hugging Face Inference API 的基准 URL。
}

// NewHuggingFace 创建一个新的 HuggingFace 客户端。
//
// 参数:
//
//	model: 要使用的模型名称。
//	apiKey: Hugging Face API 密钥。
//	baseURL: Inference API 的基准 URL。如果为空，则默认为 "https://api-inference.huggingface.co/models/"。
//	timeout: HTTP 客户端的超时时间。
//
// 返回值:
//
//	*HuggingFace: 新创建的 HuggingFace 客户端实例。
//	error: 如果模型名称为空，则返回错误。
func NewHuggingFace(model, apiKey, baseURL string, timeout time.Duration) (*HuggingFace, error) {
	if model == "" {
		return nil, fmt.Errorf("huggingface provider requires a model name")
	}
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co/models/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HuggingFace{
		client:  &http.Client{Timeout: timeout},
		model:   model,
		apiKey:  apiKey,
		baseURL: baseURL,
	}, nil
}

// ModelName 返回模型名称。
func (h *HuggingFace) ModelName() string { return h.model }

type hfGenerateRequest struct {
	Inputs     string                 `json:"inputs"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Generate 调用 text-generation 接口，只返回新生成的文本。
func (h *HuggingFace) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(hfGenerateRequest{
		Inputs:     prompt,
		Parameters: map[string]interface{}{"return_full_text": false},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+h.model, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("huggingface returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("no generated text returned")
	}
	return out[0].GeneratedText, nil
}
