package storage

import (
	"context"
	"errors"
	"io"

	"manifestdb/pkg/types"
)

var (
	ErrNotFound             = errors.New("object not found")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrUnsupportedAlgorithm = errors.New("unsupported checksum algorithm")
)

// WriteFunc 把对象内容流式写入 w。
// 返回错误时，对象不会以任何名字出现在存储中。
type WriteFunc func(w io.Writer) error

// Entry 描述一个已经就位的对象
type Entry struct {
	Checksum types.Checksum
	Path     string
	// Cached 为 true 表示对象在调用前就已存在并通过了校验
	Cached bool
}

// Store defines a checksum-addressed object directory.
// Every name visible in the store is the digest of its own content.
type Store interface {
	// Publish 流式写入一个匿名文件，同时计算摘要，成功后以摘要为名发布
	Publish(ctx context.Context, write WriteFunc) (types.Checksum, error)

	// FetchOrUseCached 命中缓存时重新校验内容；否则调用 produce 并校验产出的摘要
	FetchOrUseCached(ctx context.Context, want types.Checksum, produce WriteFunc) (Entry, error)

	// Get 根据 Checksum 读取原始数据 (流式)
	Get(ctx context.Context, sum types.Checksum) (io.ReadCloser, error)

	// Has 检查对象是否存在
	Has(ctx context.Context, sum types.Checksum) (bool, error)

	// Path 返回对象的物理路径 (不保证存在)
	Path(sum types.Checksum) string
}
