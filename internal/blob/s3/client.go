// Package s3blob stores verification evidence and ledger snapshots in S3 or
// any S3-compatible provider (MinIO, R2, iDrive e2) using AWS SDK v2.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// Objects above multipartThreshold are uploaded in partSize chunks.
const (
	multipartThreshold = 8 << 20
	partSize           = 5 << 20
	// deleteBatch is the S3 DeleteObjects limit.
	deleteBatch = 1000
)

// Objects is the bucket surface used by EvidenceStore and SnapshotArchiver.
// Metadata keys are stored as x-amz-meta-* headers.
type Objects interface {
	Put(ctx context.Context, key string, body []byte, contentType string, meta map[string]string) error
	// Open returns domain.ErrNotFound for a missing key.
	Open(ctx context.Context, key string) (io.ReadCloser, map[string]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Keys lists keys under prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Remove(ctx context.Context, keys ...string) error
}

// ClientConfig holds the connection settings for an S3-compatible store.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint, e.g. "https://e2.idy.idrivee2.com"
	// or "minio.local:9000". Leave empty for AWS S3.
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// UseSSL picks the scheme when Endpoint has none.
	UseSSL bool
	// ForcePathStyle is required by iDrive e2 and most self-hosted stores.
	ForcePathStyle bool
}

// Client is one bucket. It implements Objects.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New creates a Client from cfg.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Health checks that the bucket is reachable with the configured credentials.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: health check failed for bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Put implements Objects.
func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string, meta map[string]string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	}
	if len(body) <= multipartThreshold {
		if _, err := c.s3.PutObject(ctx, input); err != nil {
			return fmt.Errorf("s3blob: put %s: %w", key, err)
		}
		return nil
	}
	uploader := manager.NewUploader(c.s3, func(u *manager.Uploader) { u.PartSize = partSize })
	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", key, err)
	}
	return nil
}

// Open implements Objects.
func (c *Client) Open(ctx context.Context, key string) (io.ReadCloser, map[string]string, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, fmt.Errorf("s3blob: open %s: %w", key, domain.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("s3blob: open %s: %w", key, err)
	}
	return out.Body, out.Metadata, nil
}

// Exists implements Objects.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: head %s: %w", key, err)
	}
	return true, nil
}

// Keys implements Objects.
func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pages := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove implements Objects. Missing keys are not an error.
func (c *Client) Remove(ctx context.Context, keys ...string) error {
	for len(keys) > 0 {
		n := min(len(keys), deleteBatch)
		ids := make([]types.ObjectIdentifier, n)
		for i, k := range keys[:n] {
			ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		out, err := c.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3blob: delete %d objects: %w", n, err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("s3blob: delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
		keys = keys[n:]
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	// Some compatible providers only surface the HTTP status.
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound
}

// normaliseEndpoint prepends a scheme to endpoints given as host[:port].
func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

var _ Objects = (*Client)(nil)
