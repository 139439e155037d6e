// Package objstore wraps the upload bucket: downloading event objects
// to local staging, deleting source objects, and presigning browser
// uploads. It speaks the S3 API, so MinIO/RustFS-style stores work with
// a custom endpoint and path-style addressing.
package objstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// DefaultPresignExpiry bounds presigned URLs when the config does not
// set one.
const DefaultPresignExpiry = 15 * time.Minute

// Config configures the object store client. Empty credentials fall
// back to the standard AWS environment/shared-config chain.
type Config struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	PresignExpiry time.Duration
}

// Client is the object store adapter.
type Client struct {
	s3      *s3.Client
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
	logger  *slog.Logger
}

// New creates an object store client.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, "object store bucket is required", nil)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = DefaultPresignExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, "loading object store credentials failed", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Client{
		s3:      s3Client,
		presign: s3.NewPresignClient(s3Client),
		bucket:  cfg.Bucket,
		expiry:  cfg.PresignExpiry,
		logger:  logger.With("component", "objstore"),
	}, nil
}

// Bucket returns the configured bucket name for event validation.
func (c *Client) Bucket() string {
	return c.bucket
}

// Download fetches an object into destDir, named by the key's basename,
// and returns the local path. The write goes through a temp file so a
// failed download never leaves a partial staging file behind.
func (c *Client) Download(ctx context.Context, key, destDir string) (string, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return "", amerrors.New(amerrors.ErrCodeFileNotFound,
				fmt.Sprintf("object %s not found in bucket %s", key, c.bucket), err)
		}
		return "", c.unavailable("downloading object failed", err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", amerrors.New(amerrors.ErrCodeFilePermission, "creating staging directory failed", err)
	}

	dest := filepath.Join(destDir, filepath.Base(key))
	tmp, err := os.CreateTemp(destDir, ".download-*")
	if err != nil {
		return "", amerrors.New(amerrors.ErrCodeFilePermission, "creating staging file failed", err)
	}
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", c.unavailable("reading object body failed", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", amerrors.New(amerrors.ErrCodeFilePermission, "closing staging file failed", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", amerrors.New(amerrors.ErrCodeFilePermission, "moving staging file failed", err)
	}

	c.logger.Debug("downloaded object",
		slog.String("key", key),
		slog.String("dest", dest))
	return dest, nil
}

// Delete removes the source object. Missing objects are not an error;
// the delete coordinator treats the stage as already done.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNoSuchKey(err) {
		return c.unavailable("deleting object failed", err)
	}
	return nil
}

// PresignPut returns a presigned URL a browser can PUT an upload to.
func (c *Client) PresignPut(ctx context.Context, key string, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	req, err := c.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(c.expiry))
	if err != nil {
		return "", c.unavailable("presigning upload failed", err)
	}
	return req.URL, nil
}

// PresignGet returns a presigned URL for downloading an object.
func (c *Client) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.expiry))
	if err != nil {
		return "", c.unavailable("presigning download failed", err)
	}
	return req.URL, nil
}

// HealthCheck verifies the bucket is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return c.unavailable("bucket head failed", err)
	}
	return nil
}

func (c *Client) unavailable(msg string, err error) error {
	return amerrors.New(amerrors.ErrCodeObjectStoreUnavailable, msg, err).
		WithDetail("bucket", c.bucket)
}

// isNoSuchKey detects missing-object errors across S3-compatible
// backends, which are not uniform about typed errors.
func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound") ||
		strings.Contains(msg, "status code: 404")
}
