package minio

import (
	"context"
	"fmt"

	"ragdesk/backend/go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewClient 初始化并返回一个 MinIO 客户端实例，用于读取 minio:// 文档源。
//
// 参数:
//
//	ctx: 上下文，用于控制初始化健康检查的超时。
//	cfg: MinIO 配置。
//
// 返回值:
//
//	*minio.Client: 新创建的客户端。
//	error: 如果无法创建客户端或健康检查失败，则返回错误。
func NewClient(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""), // 静态凭证。
		Secure: cfg.Secure,                                                // 是否使用 HTTPS。
	})
	if err != nil {
		return nil, fmt.Errorf("无法创建 MinIO 客户端: %w", err)
	}

	if err := HealthCheck(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// HealthCheck 尝试列出存储桶以验证连接性和认证。
func HealthCheck(ctx context.Context, c *minio.Client) error {
	if c == nil {
		return fmt.Errorf("MinIO 客户端未初始化")
	}
	if _, err := c.ListBuckets(ctx); err != nil {
		return fmt.Errorf("MinIO 健康检查失败: %w", err)
	}
	return nil
}
