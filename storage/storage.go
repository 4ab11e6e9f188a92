// Package storage 提供对象存储抽象，用于会话报文日志的归档.
package storage

import (
	"context"
	"io"
)

// Storage 对象存储接口.
type Storage interface {
	// Upload 上传对象
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error

	// Download 下载对象
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, objectName string) (bool, error)

	// Delete 删除对象
	Delete(ctx context.Context, objectName string) error
}
