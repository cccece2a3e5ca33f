package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashModel 是一个本地的特征哈希 Embedding 模型。
// 它把单词与相邻词对哈希到固定维度的向量中，再做 L2 归一化。
// 相同的输入总是得到完全相同的向量，适合离线环境与测试。
type HashModel struct {
	name string
	dim  int
}

// NewHashModel 创建一个 HashModel。
//
// 参数:
//
//	name: 模型名称，为空时使用 "hash-<dim>"。
//	dim: 向量维度，必须大于 0。
//
// 返回值:
//
//	*HashModel: 新创建的模型实例。
//	error: 如果维度无效，则返回错误。
func NewHashModel(name string, dim int) (*HashModel, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hash embedding dimension must be positive, got %d", dim)
	}
	if name == "" {
		name = fmt.Sprintf("hash-%d", dim)
	}
	return &HashModel{name: name, dim: dim}, nil
}

// ModelName 返回模型名称。
func (m *HashModel) ModelName() string { return m.name }

// Embed 为单个文本生成嵌入向量。
func (m *HashModel) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.vector(text), nil
}

// EmbedBatch 为一批文本生成嵌入向量。
func (m *HashModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *HashModel) vector(text string) []float32 {
	vec := make([]float32, m.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	for i, w := range words {
		m.add(vec, w, 1)
		if i > 0 {
			m.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// add 把特征累加到向量中，哈希的最高位决定符号。
func (m *HashModel) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(m.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
