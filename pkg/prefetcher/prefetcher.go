// Package prefetcher downloads every external file referenced by a set
// of manifests into a checksum-addressed cache.
package prefetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"

	"manifestdb/pkg/fetcher"
	"manifestdb/pkg/manifest"
	"manifestdb/pkg/storage"
	"manifestdb/pkg/storage/disk"
	"manifestdb/pkg/types"
)

// Stats 汇总一次预取的结果
type Stats struct {
	Cached     int
	Downloaded int
	Failed     int
}

// Prefetcher materializes file sources under <output>/org.osbuild.files.
type Prefetcher struct {
	fetcher  fetcher.Fetcher
	progress io.Writer
	logger   *slog.Logger
}

func New(f fetcher.Fetcher, progress io.Writer, logger *slog.Logger) *Prefetcher {
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefetcher{fetcher: f, progress: progress, logger: logger}
}

// Collect merges the sources of all manifests at paths. Only the
// "sources" entry of each document is inspected.
func Collect(paths []string) (map[string]string, error) {
	acc := &manifest.Manifest{}
	for _, path := range paths {
		tree, err := manifest.ReadTree(path)
		if err != nil {
			return nil, err
		}
		root, ok := tree.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: %w: document is not an object", path, manifest.ErrSchema)
		}
		raw, ok := root["sources"]
		if !ok {
			continue
		}
		src, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: %w: sources is not an object", path, manifest.ErrSchema)
		}
		if err := acc.MergeSourceMap(src); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return acc.Links().URLs, nil
}

// Run fetches every URL referenced by the manifests at paths. A failing
// source does not stop the batch; all failures are returned joined.
func (p *Prefetcher) Run(ctx context.Context, output string, paths []string) (Stats, error) {
	var stats Stats

	urls, err := Collect(paths)
	if err != nil {
		return stats, err
	}
	if len(urls) == 0 {
		return stats, nil
	}

	store, err := disk.NewAdapter(filepath.Join(output, manifest.SourceFiles))
	if err != nil {
		return stats, err
	}

	checksums := make([]string, 0, len(urls))
	for c := range urls {
		checksums = append(checksums, c)
	}
	sort.Strings(checksums)

	var errs []error
	for _, c := range checksums {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		cached, err := p.fetchOne(ctx, store, c, urls[c])
		switch {
		case err != nil:
			stats.Failed++
			p.logger.Warn("prefetch failed", "checksum", c, "url", urls[c], "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		case cached:
			stats.Cached++
		default:
			stats.Downloaded++
		}
	}
	return stats, errors.Join(errs...)
}

func (p *Prefetcher) fetchOne(ctx context.Context, store storage.Store, checksum, url string) (bool, error) {
	sum, err := types.ParseChecksum(checksum)
	if err != nil {
		return false, err
	}

	fmt.Fprintf(p.progress, "Next source: %s\n", checksum)
	fmt.Fprintf(p.progress, "             %s\n", store.Path(sum))
	fmt.Fprintf(p.progress, "             %s\n", url)

	has, err := store.Has(ctx, sum)
	if err != nil {
		return false, err
	}
	if has {
		fmt.Fprintln(p.progress, "             (cached)")
	} else {
		fmt.Fprintln(p.progress, "             (download)")
	}

	entry, err := store.FetchOrUseCached(ctx, sum, func(w io.Writer) error {
		return p.fetcher.Fetch(ctx, url, w)
	})
	if err != nil {
		if errors.Is(err, storage.ErrChecksumMismatch) {
			return false, fmt.Errorf("%w (from %s)", err, url)
		}
		return false, err
	}
	return entry.Cached, nil
}
