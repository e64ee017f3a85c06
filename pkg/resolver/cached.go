package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/fxamacker/cbor/v2"
)

// 规范化的 CBOR 编码：相同的请求总是得到相同的字节，从而得到相同的 key
var encOptions = cbor.EncOptions{
	Sort:        cbor.SortCanonical,
	IndefLength: cbor.IndefLengthForbidden,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	MaxArrayElements: 100000,
	MaxMapPairs:      10000,
	MaxNestedLevels:  16,
	IndefLength:      cbor.IndefLengthForbidden,
	DupMapKey:        cbor.DupMapKeyEnforcedAPF,
}

var dm, _ = decOptions.DecMode()

// Backend stores resolved package lists by request key.
type Backend interface {
	// Load 未命中时返回 (nil, false, nil)
	Load(ctx context.Context, key string) ([]Package, bool, error)
	Store(ctx context.Context, key string, pkgs []Package) error
}

// Cached memoizes another resolver. Backend failures degrade to a
// direct query instead of failing the request.
type Cached struct {
	next    Resolver
	backend Backend
	logger  *slog.Logger
}

func NewCached(next Resolver, backend Backend, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, backend: backend, logger: logger}
}

// Key returns the canonical digest of a request.
func Key(req Request) (string, error) {
	data, err := em.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("cannot encode request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (c *Cached) Resolve(ctx context.Context, req Request) ([]Package, error) {
	key, err := Key(req)
	if err != nil {
		return nil, err
	}

	// 1. 查缓存
	pkgs, ok, err := c.backend.Load(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("resolver cache lookup failed", "key", key, "error", err)
	case ok:
		c.logger.Debug("resolver cache hit", "key", key, "packages", len(pkgs))
		return pkgs, nil
	}

	// 2. 未命中，穿透到真正的 resolver
	pkgs, err = c.next.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	// 3. 回填，失败不影响结果
	if err := c.backend.Store(ctx, key, pkgs); err != nil {
		c.logger.Warn("resolver cache fill failed", "key", key, "error", err)
	}
	return pkgs, nil
}

func encodePackages(pkgs []Package) ([]byte, error) {
	if pkgs == nil {
		pkgs = []Package{}
	}
	return em.Marshal(pkgs)
}

func decodePackages(data []byte) ([]Package, error) {
	var pkgs []Package
	if err := dm.Unmarshal(data, &pkgs); err != nil {
		return nil, err
	}
	return pkgs, nil
}
