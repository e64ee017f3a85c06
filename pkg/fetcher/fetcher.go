// Package fetcher downloads source URLs by scheme.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrFetch             = errors.New("fetch failed")
)

// Fetcher streams the content behind a URL into w.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, w io.Writer) error
}

// SchemeFetcher handles one URL scheme.
type SchemeFetcher interface {
	Fetch(ctx context.Context, u *url.URL, w io.Writer) error
}

// Mux dispatches on the URL scheme.
type Mux struct {
	schemes map[string]SchemeFetcher
}

// NewMux returns a Mux with http, https and file registered.
func NewMux() *Mux {
	m := &Mux{schemes: make(map[string]SchemeFetcher)}
	h := NewHTTP(nil)
	m.Register("http", h)
	m.Register("https", h)
	m.Register("file", File{})
	return m
}

func (m *Mux) Register(scheme string, f SchemeFetcher) {
	m.schemes[strings.ToLower(scheme)] = f
}

func (m *Mux) Fetch(ctx context.Context, rawURL string, w io.Writer) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid url %q: %v", ErrFetch, rawURL, err)
	}
	f, ok := m.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return fmt.Errorf("%w: %q in %s", ErrUnsupportedScheme, u.Scheme, rawURL)
	}
	return f.Fetch(ctx, u, w)
}
