package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrS3NotConfigured is returned when the mirror is built without a bucket.
var ErrS3NotConfigured = errors.New("S3 mirror is not configured")

// S3Config holds the configuration for the S3 mirror.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Mirror copies assets to an S3 bucket and removes them on expiry.
type S3Mirror struct {
	client   *s3.Client
	bucket   string
	region   string
	endpoint string
}

var _ Mirror = (*S3Mirror)(nil)

// NewS3Mirror creates an S3 client from cfg.
func NewS3Mirror(ctx context.Context, cfg S3Config) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, ErrS3NotConfigured
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Mirror{
		client:   s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}, nil
}

// Upload puts data under key and returns the object URL.
// The body should be seekable so the request can be signed.
func (m *S3Mirror) Upload(ctx context.Context, key, contentType string, data io.Reader) (string, error) {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(m.bucket),
		Key:          aws.String(key),
		Body:         data,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("no-store"),
	})
	if err != nil {
		return "", fmt.Errorf("upload to S3: %w", err)
	}
	return m.URL(key), nil
}

// Delete removes key from the bucket.
func (m *S3Mirror) Delete(ctx context.Context, key string) error {
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete from S3: %w", err)
	}
	return nil
}

// URL returns the public URL of key. Custom endpoints use path-style URLs.
func (m *S3Mirror) URL(key string) string {
	if m.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", m.endpoint, m.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", m.bucket, m.region, key)
}
