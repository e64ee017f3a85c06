// Package publisher preprocesses a tree of manifests and publishes the
// results into a checksum-addressed database with tag links.
package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"manifestdb/pkg/ignore"
	"manifestdb/pkg/manifest"
	"manifestdb/pkg/meta"
	"manifestdb/pkg/storage"
	"manifestdb/pkg/storage/disk"
	"manifestdb/pkg/types"
)

const (
	DirByChecksum = "by-checksum"
	DirByTag      = "by-tag"
)

// ErrOutsideSource 路径不在源目录之内
var ErrOutsideSource = errors.New("path is outside the source directory")

// Config 描述源目录和目标数据库目录
type Config struct {
	SrcDir string
	DstDir string
}

// Result 是单个文档的发布结果
type Result struct {
	Tag      string
	Checksum types.Checksum
	Path     string // by-checksum 下的对象路径
	Link     string // by-tag 下的链接路径
}

// Publisher runs every source document through a Runner and publishes
// the output as by-checksum/<checksum> plus a relative by-tag/<path>
// symlink.
type Publisher struct {
	cfg      Config
	runner   Runner
	store    storage.Store
	matcher  *ignore.Matcher
	index    *meta.Repository
	progress io.Writer
	logger   *slog.Logger
}

// New prepares the database directory. index may be nil.
func New(cfg Config, runner Runner, index *meta.Repository, progress io.Writer, logger *slog.Logger) (*Publisher, error) {
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := disk.NewAdapter(filepath.Join(cfg.DstDir, DirByChecksum))
	if err != nil {
		return nil, fmt.Errorf("failed to init %s: %w", DirByChecksum, err)
	}
	matcher, err := ignore.NewMatcher(cfg.SrcDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ignore.FileName, err)
	}

	return &Publisher{
		cfg:      cfg,
		runner:   runner,
		store:    store,
		matcher:  matcher,
		index:    index,
		progress: progress,
		logger:   logger,
	}, nil
}

// tagOf 把命令行路径转成相对 srcdir 的 tag，绝对路径先相对化
func (p *Publisher) tagOf(arg string) (string, error) {
	if !filepath.IsAbs(arg) {
		return filepath.Clean(arg), nil
	}
	src, err := filepath.Abs(p.cfg.SrcDir)
	if err != nil {
		return "", err
	}
	return filepath.Rel(src, arg)
}

// Collect expands paths (relative to the source directory, or absolute
// paths below it) into the list of documents to process. Directories
// are walked recursively and filtered by the ignore rules; files named
// explicitly are always kept.
func (p *Publisher) Collect(paths []string) ([]string, error) {
	var out []string
	for _, arg := range paths {
		rel, err := p.tagOf(arg)
		if err != nil {
			return nil, err
		}
		// 源目录之外的路径交给 Process 逐个报错
		if !filepath.IsLocal(rel) {
			out = append(out, rel)
			continue
		}

		full := filepath.Join(p.cfg.SrcDir, rel)
		info, err := os.Stat(full)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, rel)
			continue
		}

		err = filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			tag, err := filepath.Rel(p.cfg.SrcDir, path)
			if err != nil {
				return err
			}
			if path != full && p.matcher.Matches(tag) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				out = append(out, tag)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Run processes every document named by paths. A failing document does
// not stop the batch and already published objects are kept; all
// failures are returned joined.
func (p *Publisher) Run(ctx context.Context, paths []string) ([]Result, error) {
	tags, err := p.Collect(paths)
	if err != nil {
		return nil, err
	}

	var results []Result
	var errs []error
	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := p.Process(ctx, tag)
		if err != nil {
			p.logger.Warn("preprocess failed", "tag", tag, "error", err)
			fmt.Fprintf(p.progress, "❌ %s: %v\n", tag, err)
			errs = append(errs, fmt.Errorf("%s: %w", tag, err))
			continue
		}
		fmt.Fprintf(p.progress, "📦 %s -> %s\n", res.Tag, res.Checksum)
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Process publishes one document, tag being its path relative to the
// source directory.
func (p *Publisher) Process(ctx context.Context, tag string) (Result, error) {
	// by-tag 链接必须落在 by-tag 目录内
	if !filepath.IsLocal(tag) {
		return Result{}, fmt.Errorf("%w: %s", ErrOutsideSource, tag)
	}
	srcPath := filepath.Join(p.cfg.SrcDir, tag)
	src, err := os.Open(srcPath)
	if err != nil {
		return Result{}, err
	}
	defer src.Close()

	// 1. 运行预处理器，输出边写入 by-checksum 边计算摘要
	var captured bytes.Buffer
	var size int64
	sum, err := p.store.Publish(ctx, func(w io.Writer) error {
		cw := &countingWriter{w: w, n: &size}
		var out io.Writer = cw
		if p.index != nil {
			out = io.MultiWriter(cw, &captured)
		}
		if err := p.runner.Run(ctx, src, out); err != nil {
			if errors.Is(err, ErrRunnerFailed) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrRunnerFailed, err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Tag:      tag,
		Checksum: sum,
		Path:     p.store.Path(sum),
		Link:     filepath.Join(p.cfg.DstDir, DirByTag, tag),
	}

	// 2. 在 by-tag 下镜像源路径，相对链接指向对象
	if err := p.link(res.Link, res.Path); err != nil {
		return Result{}, err
	}

	// 3. 可选：写入发布索引
	if p.index != nil {
		if err := p.record(ctx, res, srcPath, size, captured.Bytes()); err != nil {
			return Result{}, err
		}
	}

	p.logger.Info("published", "tag", tag, "checksum", sum)
	return res, nil
}

func (p *Publisher) link(linkPath, target string) error {
	dir := filepath.Dir(linkPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return err
	}
	if err := disk.RemoveIfExists(linkPath); err != nil {
		return err
	}
	return os.Symlink(rel, linkPath)
}

func (p *Publisher) record(ctx context.Context, res Result, srcPath string, size int64, output []byte) error {
	var urls map[string]string
	if m, err := manifest.Parse(output); err == nil {
		urls = m.Links().URLs
	} else {
		// 输出不一定是 manifest (runner 可以是任意命令)，索引里只留空映射
		p.logger.Debug("output is not a manifest, indexing without urls", "tag", res.Tag, "error", err)
	}

	pub, err := meta.NewPublication(filepath.ToSlash(res.Tag), res.Checksum.String(), srcPath, size, urls)
	if err != nil {
		return err
	}
	return p.index.RecordPublication(ctx, pub)
}

type countingWriter struct {
	w io.Writer
	n *int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	*c.n += int64(n)
	return n, err
}
