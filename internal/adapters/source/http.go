// Package source reads upload payloads from their source locations.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/target/vidrelay/internal/core"
	apperrors "github.com/target/vidrelay/internal/errors"
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 4 << 10

// HTTPSource fetches payloads over HTTP(S). Redirects are followed by the client.
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource creates an HTTPSource. The client must not carry an overall
// Timeout because transfers stream for as long as the payload takes.
func NewHTTPSource(client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSource{client: client}
}

// Probe issues a HEAD request. Sources that refuse HEAD (presigned GET URLs
// typically answer 403 or 405) are retried with a single-byte ranged GET and
// the total is read from Content-Range.
func (s *HTTPSource) Probe(ctx context.Context, location string) (core.ProbeResult, error) {
	resp, err := s.do(ctx, http.MethodHead, location, nil)
	if err != nil {
		return core.ProbeResult{}, err
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return lengthResult(resp.ContentLength), nil
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusMethodNotAllowed,
		resp.StatusCode == http.StatusNotImplemented:
		return s.probeRange(ctx, location)
	default:
		return core.ProbeResult{}, &apperrors.StatusError{StatusCode: resp.StatusCode}
	}
}

func (s *HTTPSource) probeRange(ctx context.Context, location string) (core.ProbeResult, error) {
	resp, err := s.do(ctx, http.MethodGet, location, http.Header{"Range": {"bytes=0-0"}})
	if err != nil {
		return core.ProbeResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return parseContentRange(resp.Header.Get("Content-Range")), nil
	case http.StatusOK:
		// range ignored; the full length is in Content-Length
		return lengthResult(resp.ContentLength), nil
	default:
		return core.ProbeResult{}, statusError(resp)
	}
}

// Open starts a GET and returns the response body for streaming.
func (s *HTTPSource) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	resp, err := s.do(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

func (s *HTTPSource) do(ctx context.Context, method, location string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", strings.ToLower(method), err)
	}
	return resp, nil
}

func lengthResult(n int64) core.ProbeResult {
	if n <= 0 {
		return core.ProbeResult{}
	}
	return core.ProbeResult{Length: n, Known: true}
}

// parseContentRange reads the total from "bytes 0-0/1234". An unknown total ("*") yields Known=false.
func parseContentRange(v string) core.ProbeResult {
	_, total, ok := strings.Cut(v, "/")
	if !ok {
		return core.ProbeResult{}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return core.ProbeResult{}
	}
	return lengthResult(n)
}

func statusError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &apperrors.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(se, fmt.Errorf("read error body: %w", err))
	}
	return se
}

var _ core.SourceFetcher = (*HTTPSource)(nil)
