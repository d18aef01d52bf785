package binaries

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client the source uses; tests substitute a
// fake.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Source reads a binary from an s3://bucket/key URL.
type S3Source struct {
	bucket string
	key    string
	client S3API
}

// NewS3Source parses the URL and builds a client from the default AWS
// configuration chain. S3-compatible stores are reachable through a custom
// endpoint in PLASTROND_S3_ENDPOINT with static credentials in
// PLASTROND_S3_ACCESS_KEY / PLASTROND_S3_SECRET_KEY.
func NewS3Source(rawurl string) (*S3Source, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("invalid S3 URL %q: %w", rawurl, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return nil, fmt.Errorf("not an S3 URL: %q", rawurl)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if ak := os.Getenv("PLASTROND_S3_ACCESS_KEY"); ak != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, os.Getenv("PLASTROND_S3_SECRET_KEY"), "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := os.Getenv("PLASTROND_S3_ENDPOINT"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3SourceWithClient(u.Host, strings.TrimPrefix(u.Path, "/"), client), nil
}

// NewS3SourceWithClient returns a source over bucket/key using the given
// client.
func NewS3SourceWithClient(bucket, key string, client S3API) *S3Source {
	return &S3Source{bucket: bucket, key: key, client: client}
}

func (s *S3Source) location() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	return false
}

// Name returns the key's base name.
func (s *S3Source) Name() string {
	return path.Base(s.key)
}

// Open returns a reader over the object's bytes.
func (s *S3Source) Open() (io.ReadCloser, error) {
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, &NotFoundError{Location: s.location()}
		}
		return nil, fmt.Errorf("failed to get %s: %w", s.location(), err)
	}
	return out.Body, nil
}

// Exists reports whether the object is present.
func (s *S3Source) Exists() (bool, error) {
	_, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head %s: %w", s.location(), err)
	}
	return true, nil
}

// MimeType returns the stored Content-Type, falling back to extension and
// content detection.
func (s *S3Source) MimeType() (string, error) {
	out, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return "", &NotFoundError{Location: s.location()}
		}
		return "", fmt.Errorf("failed to head %s: %w", s.location(), err)
	}
	if ct := aws.ToString(out.ContentType); ct != "" && ct != "application/octet-stream" {
		return ct, nil
	}
	return detectMimeType(s.key, s.Open)
}

// Digest downloads the object with ranged concurrency into a temporary
// file and returns its SHA-1 checksum.
func (s *S3Source) Digest() (string, error) {
	client, ok := s.client.(manager.DownloadAPIClient)
	if !ok {
		return sha1Digest(s)
	}

	tmp, err := os.CreateTemp("", "plastron-s3-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	downloader := manager.NewDownloader(client)
	_, err = downloader.Download(context.Background(), tmp, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return "", &NotFoundError{Location: s.location()}
		}
		return "", fmt.Errorf("failed to download %s: %w", s.location(), err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind temp file: %w", err)
	}
	h := sha1.New()
	if _, err := io.Copy(h, tmp); err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", s.location(), err)
	}
	return fmt.Sprintf("sha1=%x", h.Sum(nil)), nil
}

// Size returns the object's length in bytes.
func (s *S3Source) Size() (int64, error) {
	out, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return 0, &NotFoundError{Location: s.location()}
		}
		return 0, fmt.Errorf("failed to head %s: %w", s.location(), err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Close is a no-op; the client is shared.
func (s *S3Source) Close() error {
	return nil
}
