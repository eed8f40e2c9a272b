// Package s3client stores the scratch-state artifact in an S3 bucket so the
// provisioning and browser stages of a CI run can live on different
// machines. Any S3-compatible endpoint works; tests use gofakes3.
package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kuitang/dashboard-e2e/internal/errs"
)

// ContentType of every artifact written by the suite.
const ContentType = "application/json"

// Client reads and writes artifacts in one bucket.
type Client struct {
	api    *s3.Client
	bucket string
}

// Config selects the endpoint, credentials and bucket.
type Config struct {
	// Empty Endpoint means AWS S3.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	// UsePathStyle is needed by gofakes3 and most self-hosted stores.
	UsePathStyle bool
}

// Object is an artifact and its user metadata.
type Object struct {
	Key          string
	Body         []byte
	Metadata     map[string]string
	LastModified time.Time
}

// New builds a client from cfg. Static credentials are used when both keys
// are set; otherwise the default AWS chain applies.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BucketName) == "" {
		return nil, errs.New(errs.InvalidArgument, "s3 bucket name is empty")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "load AWS config", err)
	}

	api := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return Wrap(api, cfg.BucketName), nil
}

// Wrap binds an existing SDK client to bucket.
func Wrap(api *s3.Client, bucket string) *Client {
	return &Client{api: api, bucket: bucket}
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// Put writes body under key with the given user metadata.
func (c *Client) Put(ctx context.Context, key string, body []byte, meta map[string]string) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(ContentType),
		Metadata:    meta,
	})
	return c.wrap("put", key, err)
}

// Get reads the artifact at key. A missing key is errs.NotFound.
func (c *Client) Get(ctx context.Context, key string) (*Object, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, c.wrap("get", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, c.wrap("read", key, err)
	}
	obj := &Object{Key: key, Body: body, Metadata: out.Metadata}
	if out.LastModified != nil {
		obj.LastModified = *out.LastModified
	}
	return obj, nil
}

// Delete removes key. Deleting a missing key succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	return c.wrap("delete", key, err)
}

func (c *Client) wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("s3 %s s3://%s/%s", op, c.bucket, key)
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return errs.Wrap(errs.NotFound, msg, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.Timeout, msg, err)
	}
	return errs.Wrap(errs.Unavailable, msg, err)
}
