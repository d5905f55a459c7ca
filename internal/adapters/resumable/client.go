// Package resumable speaks the destination's resumable upload protocol:
// session negotiation followed by a single streamed PUT of the payload.
package resumable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/vidrelay/internal/core"
	"github.com/target/vidrelay/internal/domain/model"
	apperrors "github.com/target/vidrelay/internal/errors"
)

const (
	// maxResponseBodyBytes bounds response bodies kept for results and errors.
	maxResponseBodyBytes = 64 << 10
	defaultResultIDPath  = "id"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// SessionURL is the fixed session-creation endpoint.
	SessionURL string
	// ResultIDPath is a JMESPath expression selecting the destination id from the upload response.
	ResultIDPath string
	// NegotiateTimeout bounds the negotiation request.
	NegotiateTimeout time.Duration
	// HTTPClient is used for both legs. It must not carry an overall Timeout.
	HTTPClient *http.Client
}

// Client negotiates sessions and uploads payloads.
type Client struct {
	sessionURL       string
	resultIDPath     string
	negotiateTimeout time.Duration
	httpClient       *http.Client
}

// NewClient validates options and creates a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.SessionURL == "" {
		return nil, errors.New("session URL is required")
	}
	path := strings.TrimSpace(opts.ResultIDPath)
	if path == "" {
		path = defaultResultIDPath
	}
	if _, err := jmespath.Compile(path); err != nil {
		return nil, fmt.Errorf("invalid result id path %q: %w", path, err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := opts.NegotiateTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		sessionURL:       opts.SessionURL,
		resultIDPath:     path,
		negotiateTimeout: timeout,
		httpClient:       hc,
	}, nil
}

type snippet struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CategoryID  string   `json:"categoryId,omitempty"`
}

type status struct {
	PrivacyStatus           string     `json:"privacyStatus,omitempty"`
	SelfDeclaredMadeForKids *bool      `json:"selfDeclaredMadeForKids,omitempty"`
	Embeddable              *bool      `json:"embeddable,omitempty"`
	License                 string     `json:"license,omitempty"`
	PublishAt               *time.Time `json:"publishAt,omitempty"`
}

type sessionBody struct {
	Snippet snippet `json:"snippet"`
	Status  status  `json:"status"`
}

func newSessionBody(m *model.VideoMetadata) sessionBody {
	if m == nil {
		return sessionBody{}
	}
	return sessionBody{
		Snippet: snippet{
			Title:       m.Title,
			Description: m.Description,
			Tags:        m.Tags,
			CategoryID:  m.CategoryID,
		},
		Status: status{
			PrivacyStatus:           m.PrivacyStatus,
			SelfDeclaredMadeForKids: m.MadeForKids,
			Embeddable:              m.Embeddable,
			License:                 m.License,
			PublishAt:               m.PublishAt,
		},
	}
}

// Negotiate creates an upload session and returns the handle from the Location header.
func (c *Client) Negotiate(ctx context.Context, in core.NegotiateInput) (string, error) {
	body, err := json.Marshal(newSessionBody(in.Metadata))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode session metadata")
	}

	ctx, cancel := context.WithTimeout(ctx, c.negotiateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "build session request")
	}
	req.Header.Set("Authorization", "Bearer "+in.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", in.ContentType)
	if in.Length > 0 {
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(in.Length, 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeSessionNegotiation, "session negotiation request failed")
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && location != "" {
		return location, nil
	}

	text, _, readErr := readResponseBody(resp.Body)
	cause := error(&apperrors.StatusError{StatusCode: resp.StatusCode, Body: text})
	if readErr != nil {
		cause = errors.Join(cause, readErr)
	}
	return "", apperrors.Wrapf(cause, apperrors.ErrCodeSessionNegotiation,
		"destination did not return an upload session (status %d)", resp.StatusCode)
}

// Upload streams in.Body to the session with the total length declared up front.
// 200/201 yield a result; any other status is returned as a StatusError.
func (c *Client) Upload(ctx context.Context, in core.UploadInput) (*model.UploadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, in.SessionURL, in.Body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	// the body is a plain stream; declare its length so the request is not chunked
	req.ContentLength = in.Length
	if in.Length == 0 {
		req.Body = http.NoBody
	}
	req.Header.Set("Content-Type", in.ContentType)
	if in.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+in.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	text, _, readErr := readResponseBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return c.result(text), nil
	default:
		se := &apperrors.StatusError{StatusCode: resp.StatusCode, Body: text}
		if readErr != nil {
			return nil, errors.Join(se, readErr)
		}
		return nil, se
	}
}

// result extracts the destination id; an absent or unparseable body is still a success.
func (c *Client) result(body string) *model.UploadResult {
	res := &model.UploadResult{}
	if strings.TrimSpace(body) == "" {
		return res
	}
	var data any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return res
	}
	res.Response = json.RawMessage(body)
	v, err := jmespath.Search(c.resultIDPath, data)
	if err != nil {
		return res
	}
	switch id := v.(type) {
	case string:
		res.ID = id
	case float64:
		res.ID = strconv.FormatFloat(id, 'f', -1, 64)
	}
	return res
}

func readResponseBody(body io.Reader) (string, bool, error) {
	if body == nil {
		return "", false, nil
	}
	limited := io.LimitReader(body, maxResponseBodyBytes+1)
	data, readErr := io.ReadAll(limited)
	truncated := len(data) > maxResponseBodyBytes
	if truncated {
		data = data[:maxResponseBodyBytes]
		if _, drainErr := io.Copy(io.Discard, body); drainErr != nil && readErr == nil {
			readErr = drainErr
		}
	}
	return string(data), truncated, readErr
}

var (
	_ core.SessionNegotiator = (*Client)(nil)
	_ core.Uploader          = (*Client)(nil)
)
