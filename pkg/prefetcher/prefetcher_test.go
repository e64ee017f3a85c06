package prefetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"manifestdb/pkg/fetcher"
	"manifestdb/pkg/manifest"
	"manifestdb/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFetcher 从内存表中返回内容，并记录请求过的 URL
type memFetcher struct {
	mu      sync.Mutex
	content map[string]string
	calls   []string
}

func (f *memFetcher) Fetch(ctx context.Context, url string, w io.Writer) error {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	data, ok := f.content[url]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: 404 %s", fetcher.ErrFetch, url)
	}
	_, err := io.WriteString(w, data)
	return err
}

func checksumOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func writeManifest(t *testing.T, dir, name string, urls map[string]string) string {
	t.Helper()
	m := &manifest.Manifest{}
	m.AddURLs(urls)
	data, err := m.Bytes()
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	a := writeManifest(t, dir, "a.json", map[string]string{"sha256:aa": "u1"})
	b := writeManifest(t, dir, "b.json", map[string]string{"sha256:bb": "u2", "sha256:aa": "u3"})

	urls, err := Collect([]string{a, b})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sha256:aa": "u3", "sha256:bb": "u2"}, urls)

	// 没有 sources 的文档被跳过，其它键不做校验
	c := filepath.Join(dir, "c.json")
	require.NoError(t, os.WriteFile(c, []byte(`{"version": "2", "pipelines": []}`), 0644))
	urls, err = Collect([]string{c})
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestCollect_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, doc string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
		return path
	}

	_, err := Collect([]string{write("kind.json", `{"sources": {"org.osbuild.ostree": {}}}`)})
	assert.ErrorIs(t, err, manifest.ErrSchema)

	_, err = Collect([]string{write("list.json", `{"sources": []}`)})
	assert.ErrorIs(t, err, manifest.ErrSchema)

	_, err = Collect([]string{write("bad.json", `{"sources": `)})
	assert.ErrorIs(t, err, manifest.ErrDecode)

	_, err = Collect([]string{filepath.Join(dir, "missing.json")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	out := filepath.Join(dir, "cache")

	f := &memFetcher{content: map[string]string{
		"https://m/a.rpm": "package a",
		"https://m/b.rpm": "package b",
	}}
	path := writeManifest(t, dir, "m.json", map[string]string{
		checksumOf("package a"): "https://m/a.rpm",
		checksumOf("package b"): "https://m/b.rpm",
	})

	var progress bytes.Buffer
	p := New(f, &progress, nil)

	stats, err := p.Run(ctx, out, []string{path})
	require.NoError(t, err)
	assert.Equal(t, Stats{Downloaded: 2}, stats)
	assert.Contains(t, progress.String(), "Next source: "+checksumOf("package a"))
	assert.Contains(t, progress.String(), "(download)")

	data, err := os.ReadFile(filepath.Join(out, "org.osbuild.files", checksumOf("package b")))
	require.NoError(t, err)
	assert.Equal(t, "package b", string(data))

	// 第二次运行全部命中缓存，不再请求网络
	progress.Reset()
	f.calls = nil
	stats, err = p.Run(ctx, out, []string{path})
	require.NoError(t, err)
	assert.Equal(t, Stats{Cached: 2}, stats)
	assert.Empty(t, f.calls)
	assert.Contains(t, progress.String(), "(cached)")
	assert.NotContains(t, progress.String(), "(download)")
}

func TestRun_BatchContinuesOnFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	out := filepath.Join(dir, "cache")

	good := checksumOf("good")
	f := &memFetcher{content: map[string]string{
		"https://m/good":  "good",
		"https://m/wrong": "not what the checksum says",
	}}
	path := writeManifest(t, dir, "m.json", map[string]string{
		good:                   "https://m/good",
		checksumOf("expected"): "https://m/wrong",
		checksumOf("gone"):     "https://m/gone",
	})

	stats, err := New(f, nil, nil).Run(ctx, out, []string{path})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrChecksumMismatch)
	assert.ErrorIs(t, err, fetcher.ErrFetch)
	assert.Equal(t, Stats{Downloaded: 1, Failed: 2}, stats)

	// 成功的对象已发布，失败的对象没有留下任何名字
	entries, err := os.ReadDir(filepath.Join(out, "org.osbuild.files"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, good, entries[0].Name())
}

func TestRun_CorruptedCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	out := filepath.Join(dir, "cache")

	sum := checksumOf("original")
	f := &memFetcher{content: map[string]string{"https://m/x": "original"}}
	path := writeManifest(t, dir, "m.json", map[string]string{sum: "https://m/x"})

	p := New(f, nil, nil)
	_, err := p.Run(ctx, out, []string{path})
	require.NoError(t, err)

	target := filepath.Join(out, "org.osbuild.files", sum)
	require.NoError(t, os.Chmod(target, 0644))
	require.NoError(t, os.WriteFile(target, []byte("tampered"), 0644))

	_, err = p.Run(ctx, out, []string{path})
	assert.ErrorIs(t, err, storage.ErrChecksumMismatch)
}

func TestRun_NoSources(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "m.json", nil)

	out := filepath.Join(dir, "cache")
	stats, err := New(&memFetcher{}, nil, nil).Run(context.Background(), out, []string{path})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.NoDirExists(t, out)
}

func TestRun_BadChecksumKey(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "m.json", map[string]string{"md5:abc": "https://m/x"})

	stats, err := New(&memFetcher{}, nil, nil).Run(context.Background(), filepath.Join(dir, "c"), []string{path})
	assert.Error(t, err)
	assert.Equal(t, 1, stats.Failed)
}
