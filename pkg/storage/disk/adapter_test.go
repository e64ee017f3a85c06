package disk

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"manifestdb/pkg/storage"
	"manifestdb/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sumOf 计算测试数据的内容地址
func sumOf(data string) types.Checksum {
	s := sha256.Sum256([]byte(data))
	return types.NewSHA256(s[:])
}

func writeString(data string) storage.WriteFunc {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, data)
		return err
	}
}

// listNames 返回目录下所有条目名 (包括隐藏文件)
func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAdapter_Publish(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	sum, err := store.Publish(ctx, writeString("hello"))
	require.NoError(t, err)
	assert.Equal(t, types.Checksum("sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"), sum)

	// 文件以内容地址命名
	assert.Equal(t, []string{sum.String()}, listNames(t, tmpDir))
	data, err := os.ReadFile(filepath.Join(tmpDir, sum.String()))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// 重新计算摘要必须与名字一致
	require.NoError(t, store.Verify(ctx, sum))

	exists, err := store.Has(ctx, sum)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := store.Get(ctx, sum)
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestAdapter_Publish_Republish(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.Publish(ctx, writeString("same"))
	require.NoError(t, err)
	second, err := store.Publish(ctx, writeString("same"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, listNames(t, tmpDir), 1)
}

func TestAdapter_Publish_WriterFailure(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = store.Publish(context.Background(), func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	require.ErrorIs(t, err, boom)

	// 不能留下任何名字，包括临时文件
	assert.Empty(t, listNames(t, tmpDir))
}

func TestAdapter_Publish_CanceledContext(t *testing.T) {
	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Publish(ctx, writeString("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdapter_Publish_Concurrent(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	payload := strings.Repeat("manifest", 4096)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Publish(ctx, writeString(payload))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	sum := sumOf(payload)
	assert.Equal(t, []string{sum.String()}, listNames(t, tmpDir))
	assert.NoError(t, store.Verify(ctx, sum))
}

func TestAdapter_FetchOrUseCached(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	want := sumOf("payload")
	calls := 0
	produce := func(w io.Writer) error {
		calls++
		_, err := io.WriteString(w, "payload")
		return err
	}

	// 1. Miss: 调用 produce
	entry, err := store.FetchOrUseCached(ctx, want, produce)
	require.NoError(t, err)
	assert.False(t, entry.Cached)
	assert.Equal(t, store.Path(want), entry.Path)
	assert.Equal(t, 1, calls)

	// 2. Hit: 不再调用 produce
	entry, err = store.FetchOrUseCached(ctx, want, produce)
	require.NoError(t, err)
	assert.True(t, entry.Cached)
	assert.Equal(t, 1, calls)
}

func TestAdapter_FetchOrUseCached_ProducedMismatch(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)

	want := sumOf("expected")
	_, err = store.FetchOrUseCached(context.Background(), want, writeString("something else"))
	require.ErrorIs(t, err, storage.ErrChecksumMismatch)

	// 校验失败不能发布任何名字
	assert.Empty(t, listNames(t, tmpDir))
}

func TestAdapter_FetchOrUseCached_CorruptedCache(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	sum, err := store.Publish(ctx, writeString("original"))
	require.NoError(t, err)

	// 篡改磁盘上的内容
	require.NoError(t, os.Chmod(store.Path(sum), 0644))
	require.NoError(t, os.WriteFile(store.Path(sum), []byte("corrupted"), 0644))

	produced := false
	_, err = store.FetchOrUseCached(ctx, sum, func(w io.Writer) error {
		produced = true
		_, err := io.WriteString(w, "original")
		return err
	})
	require.ErrorIs(t, err, storage.ErrChecksumMismatch)
	assert.False(t, produced, "corrupted cache entries are reported, not silently refetched")

	assert.ErrorIs(t, store.Verify(ctx, sum), storage.ErrChecksumMismatch)
}

func TestAdapter_FetchOrUseCached_BadAddress(t *testing.T) {
	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.FetchOrUseCached(ctx, types.Checksum("md5:"+strings.Repeat("a", 32)), writeString("x"))
	assert.ErrorIs(t, err, storage.ErrUnsupportedAlgorithm)

	_, err = store.FetchOrUseCached(ctx, types.Checksum("garbage"), writeString("x"))
	assert.ErrorIs(t, err, types.ErrInvalidChecksum)
}

func TestAdapter_GetMissing(t *testing.T) {
	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, sumOf("nope"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	exists, err := store.Has(ctx, sumOf("nope"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHiddenTemp_Fallback(t *testing.T) {
	tmpDir := t.TempDir()

	p, err := openHiddenTemp(tmpDir)
	require.NoError(t, err)
	_, err = p.Write([]byte("fallback"))
	require.NoError(t, err)

	target := filepath.Join(tmpDir, sumOf("fallback").String())
	require.NoError(t, p.Link(target))
	require.NoError(t, p.Discard())

	assert.Equal(t, []string{sumOf("fallback").String()}, listNames(t, tmpDir))

	// Discard 一个未发布的临时文件
	p, err = openHiddenTemp(tmpDir)
	require.NoError(t, err)
	require.NoError(t, p.Discard())
	assert.Len(t, listNames(t, tmpDir), 1)
}
