package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"manifestdb/pkg/fetcher"
	"manifestdb/pkg/meta"
	"manifestdb/pkg/preprocessor"
	"manifestdb/pkg/publisher"
	"manifestdb/pkg/resolver"

	"github.com/spf13/viper"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务，由 viper 配置组装
type App struct {
	// CachePath 总是有效；Ephemeral 为 true 时它是退出时删除的临时目录
	CachePath string
	Ephemeral bool

	Logger   *slog.Logger
	Resolver resolver.Resolver
	Fetcher  *fetcher.Mux

	closers []func() error
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context) (*App, error) {
	a := &App{Logger: newLogger(viper.GetString("log.level"))}

	// 1. 缓存目录
	if err := a.initCache(viper.GetString("cache.path")); err != nil {
		return nil, err
	}

	// 2. 依赖求解 (外部 helper + 结果缓存)
	r, err := a.initResolver()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Resolver = r

	// 3. 源下载
	a.Fetcher = a.initFetcher(ctx)

	return a, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func (a *App) initCache(path string) error {
	if path == "" {
		tmp, err := os.MkdirTemp("", "mdb-cache-*")
		if err != nil {
			return fmt.Errorf("failed to create temporary cache: %w", err)
		}
		a.CachePath = tmp
		a.Ephemeral = true
		a.closers = append(a.closers, func() error { return os.RemoveAll(tmp) })
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("cannot create cache directory: %w", err)
	}
	a.CachePath = abs
	return nil
}

func (a *App) initResolver() (resolver.Resolver, error) {
	exec := &resolver.Exec{
		Command:  viper.GetString("resolver.command"),
		CacheDir: filepath.Join(a.CachePath, "dnf"),
	}

	ttl := viper.GetDuration("resolver.cache.ttl")
	if url := viper.GetString("resolver.cache.redis_url"); url != "" {
		rc, err := resolver.NewRedisCache(resolver.RedisConfig{RedisURL: url, TTL: ttl})
		if err == nil {
			a.closers = append(a.closers, rc.Close)
			return resolver.NewCached(exec, rc, a.Logger), nil
		}
		// 缓存故障降级为本地磁盘缓存
		a.Logger.Warn("redis resolver cache unavailable, using disk cache", "error", err)
	}

	dc, err := resolver.NewDiskCache(a.ProcessorConfig("").DepsolveCacheDir(), ttl)
	if err != nil {
		return nil, err
	}
	return resolver.NewCached(exec, dc, a.Logger), nil
}

func (a *App) initFetcher(ctx context.Context) *fetcher.Mux {
	mux := fetcher.NewMux()
	s3f, err := fetcher.NewS3(ctx, fetcher.S3Config{
		Endpoint:        viper.GetString("s3.endpoint"),
		Region:          viper.GetString("s3.region"),
		AccessKeyID:     viper.GetString("s3.access_key"),
		SecretAccessKey: viper.GetString("s3.secret_key"),
	})
	if err != nil {
		a.Logger.Warn("s3 sources disabled", "error", err)
		return mux
	}
	mux.Register("s3", s3f)
	return mux
}

// ProcessorConfig 构造预处理器配置，cwd 为注解路径的基准目录
func (a *App) ProcessorConfig(cwd string) preprocessor.Config {
	return preprocessor.Config{
		Cwd:       cwd,
		CachePath: a.CachePath,
		BaseURL:   viper.GetString("resolver.baseurl"),
	}
}

// Processor 返回进程内的预处理器
func (a *App) Processor(cwd string) *preprocessor.Processor {
	return preprocessor.NewProcessor(a.ProcessorConfig(cwd), a.Resolver, a.Logger)
}

// Runner 返回 preprocess 使用的 runner。preprocess.command 为空时在进程内运行
func (a *App) Runner(srcDir string) publisher.Runner {
	command := strings.Fields(viper.GetString("preprocess.command"))
	if len(command) == 0 {
		return a.Processor(srcDir)
	}

	r := &publisher.ExecRunner{Command: command[0], Args: command[1:], SrcDir: srcDir}
	// 临时缓存不传给子进程，子进程自己创建
	if !a.Ephemeral {
		r.CacheDir = a.CachePath
	}
	return r
}

// OpenIndex 打开发布索引。sqlite 未配置路径时使用 <dstDir>/index.db
func (a *App) OpenIndex(ctx context.Context, dstDir string) (*meta.Repository, error) {
	cfg := meta.Config{
		Type:     viper.GetString("database.type"),
		Path:     viper.GetString("database.path"),
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.dbname"),
		SSLMode:  viper.GetString("database.sslmode"),
	}
	if cfg.Type == "sqlite" && cfg.Path == "" {
		cfg.Path = filepath.Join(dstDir, "index.db")
	}

	db, err := meta.NewDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return meta.NewRepository(db), nil
}

// Close 按注册的逆序释放资源
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
