package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/target/vidrelay/internal/core"
)

// Router dispatches to a fetcher by URL scheme.
type Router struct {
	fetchers map[string]core.SourceFetcher
}

// NewRouter creates a Router. http and https share the HTTP fetcher; s3 is
// registered only when s3Fetcher is non-nil.
func NewRouter(httpFetcher, s3Fetcher core.SourceFetcher) *Router {
	r := &Router{fetchers: map[string]core.SourceFetcher{
		"http":  httpFetcher,
		"https": httpFetcher,
	}}
	if s3Fetcher != nil {
		r.fetchers["s3"] = s3Fetcher
	}
	return r
}

func (r *Router) Probe(ctx context.Context, location string) (core.ProbeResult, error) {
	f, err := r.route(location)
	if err != nil {
		return core.ProbeResult{}, err
	}
	return f.Probe(ctx, location)
}

func (r *Router) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	f, err := r.route(location)
	if err != nil {
		return nil, err
	}
	return f.Open(ctx, location)
}

func (r *Router) route(location string) (core.SourceFetcher, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse source location: %w", err)
	}
	f, ok := r.fetchers[strings.ToLower(u.Scheme)]
	if !ok || f == nil {
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
	return f, nil
}

var _ core.SourceFetcher = (*Router)(nil)

// Supports reports whether location's scheme has a registered fetcher.
func (r *Router) Supports(location string) bool {
	_, err := r.route(location)
	return err == nil
}
