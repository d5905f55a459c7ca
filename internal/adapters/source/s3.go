package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/target/vidrelay/internal/core"
	apperrors "github.com/target/vidrelay/internal/errors"
)

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads payloads addressed as s3://bucket/key.
type S3Source struct {
	client S3API
}

// NewS3Source creates an S3Source.
func NewS3Source(client S3API) *S3Source {
	return &S3Source{client: client}
}

func (s *S3Source) Probe(ctx context.Context, location string) (core.ProbeResult, error) {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return core.ProbeResult{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return core.ProbeResult{}, s3Error("head", bucket, key, err)
	}
	return lengthResult(aws.ToInt64(out.ContentLength)), nil
}

func (s *S3Source) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error("get", bucket, key, err)
	}
	return out.Body, nil
}

func parseS3Location(location string) (string, string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 location: %w", err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 location %q: want s3://bucket/key", location)
	}
	return u.Host, key, nil
}

// httpStatusError is implemented by the SDK's response errors.
type httpStatusError interface {
	HTTPStatusCode() int
}

// s3Error attaches the HTTP status of SDK response errors so retry
// classification treats S3 the same as an HTTP source.
func s3Error(op, bucket, key string, err error) error {
	wrapped := fmt.Errorf("s3.%s %s/%s: %w", op, bucket, key, err)
	var hs httpStatusError
	if errors.As(err, &hs) && hs.HTTPStatusCode() != 0 {
		return errors.Join(wrapped, &apperrors.StatusError{StatusCode: hs.HTTPStatusCode()})
	}
	return wrapped
}

var _ core.SourceFetcher = (*S3Source)(nil)
