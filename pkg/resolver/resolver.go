// Package resolver is the boundary to the external package-dependency
// resolver. Given package specs and repository coordinates it returns
// the resolved package list with checksums and relative download paths.
package resolver

import (
	"context"
	"errors"
)

// ErrResolve wraps every failure reported by a resolver backend.
var ErrResolve = errors.New("dependency resolution failed")

// Request 描述一次依赖求解
type Request struct {
	Architecture string   `json:"architecture" cbor:"1,keyasint"`
	Release      string   `json:"release" cbor:"2,keyasint"`
	BaseURL      string   `json:"baseurl" cbor:"3,keyasint"`
	Packages     []string `json:"packages" cbor:"4,keyasint"`
}

// Package is one resolved package. Path is relative to the request's
// base URL.
type Package struct {
	Checksum string `json:"checksum" cbor:"1,keyasint"`
	Name     string `json:"name" cbor:"2,keyasint"`
	Path     string `json:"path" cbor:"3,keyasint"`
}

// Resolver resolves a request into an ordered package list.
type Resolver interface {
	Resolve(ctx context.Context, req Request) ([]Package, error)
}

// Func adapts a plain function to the Resolver interface.
type Func func(ctx context.Context, req Request) ([]Package, error)

func (f Func) Resolve(ctx context.Context, req Request) ([]Package, error) {
	return f(ctx, req)
}
