package milvus

import (
	"context"
	"fmt"

	"ragdesk/backend/go/internal/config"
	"ragdesk/backend/go/pkg/logger"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Client 包含了 Milvus 客户端实例和相关配置。
type Client struct {
	client.Client                     // Milvus 客户端实例。
	Config        config.MilvusConfig // Milvus 配置。
	log           *logger.Logger
}

// NewClient 创建并返回一个 Milvus 客户端实例。
//
// 参数:
//
//	ctx: 上下文，用于控制连接建立的超时。
//	cfg: Milvus 配置。
//	log: 日志记录器。
//
// 返回值:
//
//	*Client: 新创建的客户端。
//	error: 如果无法连接到 Milvus，则返回错误。
func NewClient(ctx context.Context, cfg config.MilvusConfig, log *logger.Logger) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("无法连接到 Milvus: %w", err)
	}
	log.WithField("address", cfg.Address).Info("成功连接到 Milvus")
	return &Client{Client: c, Config: cfg, log: log}, nil
}

// Close 安全地关闭与 Milvus 的连接。
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// HealthCheck 检查 Milvus 连接的健康状况。
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.Client.ListCollections(ctx); err != nil {
		return fmt.Errorf("Milvus health check failed: %w", err)
	}
	return nil
}

// CollectionSpec 描述需要创建的集合。
type CollectionSpec struct {
	Name        string
	Description string
	Fields      []*entity.Field
	VectorField string            // 需要建立 HNSW 索引的向量字段
	Metric      entity.MetricType // 相似度度量
}

// EnsureCollection 确保集合存在并已加载到内存中。集合不存在时按 CollectionSpec 创建并建立 HNSW 索引。
//
// 返回值:
//
//	bool: 本次调用是否新建了集合。
//	error: 如果创建、建索引或加载失败，则返回错误。
func (c *Client) EnsureCollection(ctx context.Context, spec CollectionSpec) (bool, error) {
	exists, err := c.Client.HasCollection(ctx, spec.Name)
	if err != nil {
		return false, fmt.Errorf("检查集合是否存在时出错: %w", err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(spec.Name).
			WithDescription(spec.Description)
		for _, field := range spec.Fields {
			schema = schema.WithField(field)
		}

		if err := c.Client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return false, fmt.Errorf("创建集合失败: %w", err)
		}

		idx, err := entity.NewIndexHNSW(spec.Metric, c.Config.M, c.Config.EfConstruction)
		if err != nil {
			return false, fmt.Errorf("构建 HNSW 索引参数失败: %w", err)
		}
		if err := c.Client.CreateIndex(ctx, spec.Name, spec.VectorField, idx, false); err != nil {
			return false, fmt.Errorf("为字段 '%s' 创建索引失败: %w", spec.VectorField, err)
		}
		c.log.WithField("collection", spec.Name).Info("已创建 Milvus 集合")
	}

	if err := c.Client.LoadCollection(ctx, spec.Name, false); err != nil {
		return false, fmt.Errorf("加载 Milvus 集合 '%s' 失败: %w", spec.Name, err)
	}
	return !exists, nil
}

// SearchParam 返回配置中 ef 对应的 HNSW 搜索参数。
func (c *Client) SearchParam() (entity.SearchParam, error) {
	ef := c.Config.Ef
	if ef <= 0 {
		ef = 64
	}
	return entity.NewIndexHNSWSearchParam(ef)
}
