package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DiskCache keeps one CBOR file per request under dir. Entries older
// than ttl are misses; a zero ttl never expires.
type DiskCache struct {
	dir string
	ttl time.Duration
}

func NewDiskCache(dir string, ttl time.Duration) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create resolver cache dir: %w", err)
	}
	return &DiskCache{dir: dir, ttl: ttl}, nil
}

func (d *DiskCache) path(key string) string {
	return filepath.Join(d.dir, key+".cbor")
}

func (d *DiskCache) Load(ctx context.Context, key string) ([]Package, bool, error) {
	p := d.path(key)
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if d.ttl > 0 && time.Since(info.ModTime()) > d.ttl {
		return nil, false, nil
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false, err
	}
	pkgs, err := decodePackages(data)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", p, err)
	}
	return pkgs, true, nil
}

func (d *DiskCache) Store(ctx context.Context, key string, pkgs []Package) error {
	data, err := encodePackages(pkgs)
	if err != nil {
		return err
	}

	// 先写临时文件再 rename，读者不会看到写了一半的条目
	tmp, err := os.CreateTemp(d.dir, ".entry-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), d.path(key))
}
