package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
)

// File reads file:// URLs from the local filesystem.
type File struct{}

func (File) Fetch(ctx context.Context, u *url.URL, w io.Writer) error {
	if u.Host != "" && u.Host != "localhost" {
		return fmt.Errorf("%w: remote file host %q", ErrFetch, u.Host)
	}
	f, err := os.Open(u.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrFetch, u.Path, err)
	}
	return nil
}
