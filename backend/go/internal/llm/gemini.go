package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini 是一个实现了 LLM 接口的结构体，用于与 Gemini API 交互。
type Gemini struct {
	model *genai.GenerativeModel // Gemini 生成模型实例。
	name  string
}

// NewGemini 创建一个新的 Gemini 客户端。
//
// 参数:
//
//	ctx: 上下文，用于控制客户端的生命周期。
//	model: 要使用的 Gemini 模型名称。
//	apiKey: Gemini API 密钥。
//
// 返回值:
//
//	*Gemini: 新创建的 Gemini 客户端实例。
//	error: 如果无法创建 GenAI 客户端，则返回错误。
func NewGemini(ctx context.Context, model, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Gemini{model: client.GenerativeModel(model), name: model}, nil
}

// ModelName 返回模型名称。
func (g *Gemini) ModelName() string { return g.name }

// Generate 发送单轮请求。每次调用都是独立的，不保留对话历史。
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}
