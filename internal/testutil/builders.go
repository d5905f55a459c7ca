package testutil

import (
	"github.com/target/vidrelay/internal/domain/model"
)

// UploadRequestBuilder provides a fluent interface for building CreateUploadRequest objects for testing.
type UploadRequestBuilder struct {
	req *model.CreateUploadRequest
}

// NewUploadRequest creates a new UploadRequestBuilder with sensible defaults:
// a source location and a pre-negotiated upload URL with a bearer token.
func NewUploadRequest() *UploadRequestBuilder {
	return &UploadRequestBuilder{
		req: &model.CreateUploadRequest{
			SourceURL:   "https://source.example.com/video.mp4",
			UploadURL:   "https://upload.example.com/session/1",
			AccessToken: "test-access-token",
		},
	}
}

// WithSource sets the source location.
func (b *UploadRequestBuilder) WithSource(url string) *UploadRequestBuilder {
	b.req.SourceURL = url
	return b
}

// WithUploadURL sets a pre-negotiated session handle.
func (b *UploadRequestBuilder) WithUploadURL(url string) *UploadRequestBuilder {
	b.req.UploadURL = url
	return b
}

// WithTitle clears the upload URL and sets negotiation metadata.
func (b *UploadRequestBuilder) WithTitle(title string) *UploadRequestBuilder {
	b.req.UploadURL = ""
	if b.req.Metadata == nil {
		b.req.Metadata = &model.VideoMetadata{}
	}
	b.req.Metadata.Title = title
	return b
}

// WithLength sets the caller-supplied content length.
func (b *UploadRequestBuilder) WithLength(n int64) *UploadRequestBuilder {
	b.req.ContentLength = &n
	return b
}

// WithAccessToken sets the body access token.
func (b *UploadRequestBuilder) WithAccessToken(tok string) *UploadRequestBuilder {
	b.req.AccessToken = tok
	return b
}

// WithRefreshCredentials replaces the access token with client credentials and a refresh token.
func (b *UploadRequestBuilder) WithRefreshCredentials(clientID, secret, refresh string) *UploadRequestBuilder {
	b.req.AccessToken = ""
	b.req.ClientID = clientID
	b.req.ClientSecret = secret
	b.req.RefreshToken = refresh
	return b
}

// Sync sets synchronous mode.
func (b *UploadRequestBuilder) Sync() *UploadRequestBuilder {
	b.req.Sync = true
	return b
}

// Build returns the constructed CreateUploadRequest.
func (b *UploadRequestBuilder) Build() *model.CreateUploadRequest {
	return b.req
}
