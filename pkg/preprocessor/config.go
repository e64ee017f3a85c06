// Package preprocessor rewrites annotated manifests until no annotation
// pass makes further progress.
package preprocessor

import "path/filepath"

// Config is fixed for the lifetime of a Processor.
type Config struct {
	// Cwd 是注解中相对路径的基准目录，为空时使用进程的工作目录
	Cwd string
	// CachePath 持久化缓存目录，为空表示不缓存
	CachePath string
	// BaseURL 是 mpp-depsolve 未指定 baseurl 时使用的仓库地址
	BaseURL string
}

// Resolve maps an annotation path onto the filesystem.
func (c Config) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Cwd, path)
}

// DepsolveCacheDir is where resolver results are memoized, or "" when
// no cache is configured.
func (c Config) DepsolveCacheDir() string {
	if c.CachePath == "" {
		return ""
	}
	return filepath.Join(c.CachePath, "depsolve")
}
