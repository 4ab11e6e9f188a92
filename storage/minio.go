package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wyfcoding/fixengine/config"
)

var errNotInitialized = errors.New("minio client not initialized")

// MinIOClient 基于 MinIO (S3 兼容) 的 Storage 实现.
type MinIOClient struct {
	mu     sync.RWMutex
	client *minio.Client
	bucket string
}

// NewMinIOClient 构造驱动并确保存储桶存在.
func NewMinIOClient(ctx context.Context, cfg config.MinioConfig) (*MinIOClient, error) {
	client, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	c := &MinIOClient{client: client, bucket: cfg.BucketName}
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	slog.Info("minio_client initialized", "endpoint", cfg.Endpoint, "bucket", cfg.BucketName)
	return c, nil
}

func (c *MinIOClient) snapshot() (*minio.Client, string, error) {
	if c == nil {
		return nil, "", errNotInitialized
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, "", errNotInitialized
	}
	return c.client, c.bucket, nil
}

// EnsureBucket 不存在时创建存储桶.
func (c *MinIOClient) EnsureBucket(ctx context.Context) error {
	client, bucket, err := c.snapshot()
	if err != nil {
		return err
	}
	ok, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if ok {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// Upload 将数据流上传至绑定的存储桶.
func (c *MinIOClient) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	client, bucket, err := c.snapshot()
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = client.PutObject(ctx, bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		slog.Error("minio upload failed", "object", objectName, "error", err)
		return err
	}
	slog.Debug("minio upload successful", "object", objectName, "duration", time.Since(start))
	return nil
}

func (c *MinIOClient) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	client, bucket, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	return client.GetObject(ctx, bucket, objectName, minio.GetObjectOptions{})
}

func (c *MinIOClient) Delete(ctx context.Context, objectName string) error {
	client, bucket, err := c.snapshot()
	if err != nil {
		return err
	}
	return client.RemoveObject(ctx, bucket, objectName, minio.RemoveObjectOptions{})
}

// Exists 检查对象是否存在.
func (c *MinIOClient) Exists(ctx context.Context, objectName string) (bool, error) {
	client, bucket, err := c.snapshot()
	if err != nil {
		return false, err
	}
	_, err = client.StatObject(ctx, bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdateConfig 使用最新配置刷新客户端.
func (c *MinIOClient) UpdateConfig(cfg config.MinioConfig) error {
	client, err := newMinioClient(cfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.bucket = cfg.BucketName
	c.mu.Unlock()

	slog.Info("minio client updated", "endpoint", cfg.Endpoint, "bucket", cfg.BucketName)
	return nil
}

// RegisterReloadHook 注册热更新回调.
func RegisterReloadHook(client *MinIOClient) {
	if client == nil {
		return
	}
	config.RegisterReloadHook(func(updated *config.Config) {
		if err := client.UpdateConfig(updated.Minio); err != nil {
			slog.Error("minio client reload failed", "error", err)
		}
	})
}

func newMinioClient(cfg config.MinioConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		slog.Error("failed to create minio client", "endpoint", cfg.Endpoint, "error", err)
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}
