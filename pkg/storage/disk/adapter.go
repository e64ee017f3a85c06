package disk

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"manifestdb/pkg/storage"
	"manifestdb/pkg/types"
)

// Adapter 实现了 storage.Store 接口
// 对象平铺在根目录下，文件名就是 "sha256:<hex>"
type Adapter struct {
	rootPath string // 比如: <cache>/org.osbuild.files
}

var _ storage.Store = (*Adapter)(nil)

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string) (*Adapter, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: root}, nil
}

// Path 返回 Checksum 对应的物理路径
func (s *Adapter) Path(sum types.Checksum) string {
	return filepath.Join(s.rootPath, string(sum))
}

func (s *Adapter) Publish(ctx context.Context, write storage.WriteFunc) (types.Checksum, error) {
	return s.publish(ctx, "", write)
}

func (s *Adapter) FetchOrUseCached(ctx context.Context, want types.Checksum, produce storage.WriteFunc) (storage.Entry, error) {
	if err := checkAlgorithm(want); err != nil {
		return storage.Entry{}, err
	}

	path := s.Path(want)

	// 1. 缓存命中：每次都重新计算摘要，防止磁盘上的内容被篡改/损坏
	if f, err := os.Open(path); err == nil {
		got, err := digest(f)
		f.Close()
		if err != nil {
			return storage.Entry{}, fmt.Errorf("failed to hash cached object %s: %w", path, err)
		}
		if got != want {
			return storage.Entry{}, fmt.Errorf("%w: cached object %s hashes to %s", storage.ErrChecksumMismatch, path, got)
		}
		return storage.Entry{Checksum: want, Path: path, Cached: true}, nil
	}

	// 2. 缓存未命中：生产内容，发布前校验
	if _, err := s.publish(ctx, want, produce); err != nil {
		return storage.Entry{}, err
	}
	return storage.Entry{Checksum: want, Path: path}, nil
}

// publish 实现 create-invisible -> stream+hash -> verify -> link 协议。
// want 为空时不做预期校验。
func (s *Adapter) publish(ctx context.Context, want types.Checksum, write storage.WriteFunc) (types.Checksum, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	pending, err := openPending(s.rootPath)
	if err != nil {
		return "", fmt.Errorf("failed to open pending object in %s: %w", s.rootPath, err)
	}
	// 成功 Link 之后 Discard 是无害的
	defer pending.Discard()

	hasher := sha256.New()
	if err := write(io.MultiWriter(pending, hasher)); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}

	got := types.NewSHA256(hasher.Sum(nil))
	if !want.IsZero() && got != want {
		return "", fmt.Errorf("%w: expected %s, got %s", storage.ErrChecksumMismatch, want, got)
	}

	if err := pending.Link(s.Path(got)); err != nil {
		return "", fmt.Errorf("failed to publish %s: %w", got, err)
	}
	return got, nil
}

func (s *Adapter) Get(ctx context.Context, sum types.Checksum) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(sum))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Adapter) Has(ctx context.Context, sum types.Checksum) (bool, error) {
	_, err := os.Stat(s.Path(sum))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Verify 重新计算已存对象的摘要
func (s *Adapter) Verify(ctx context.Context, sum types.Checksum) error {
	rc, err := s.Get(ctx, sum)
	if err != nil {
		return err
	}
	defer rc.Close()

	got, err := digest(rc)
	if err != nil {
		return err
	}
	if got != sum {
		return fmt.Errorf("%w: %s hashes to %s", storage.ErrChecksumMismatch, sum, got)
	}
	return nil
}

func digest(r io.Reader) (types.Checksum, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}
	return types.NewSHA256(hasher.Sum(nil)), nil
}

func checkAlgorithm(sum types.Checksum) error {
	if err := sum.Validate(); err != nil {
		return err
	}
	if sum.Algorithm() != types.AlgorithmSHA256 {
		return fmt.Errorf("%w: %s", storage.ErrUnsupportedAlgorithm, sum.Algorithm())
	}
	return nil
}

// RemoveIfExists 删除文件，文件已不存在不算错误
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
