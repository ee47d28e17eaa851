package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"anthem-pipeline/internal/config"
)

// UploadResult describes a stored artifact.
type UploadResult struct {
	URL  string
	Size int64
}

// Uploader persists a finished anthem track and returns its durable URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (UploadResult, error)
}

// NewUploader picks the configured backend: S3 when a bucket is set,
// otherwise the local output directory.
func NewUploader(ctx context.Context, cfg config.Config) (Uploader, error) {
	if cfg.AudioS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &s3Uploader{
			client:  client,
			bucket:  cfg.AudioS3Bucket,
			baseURL: strings.TrimRight(cfg.StorageBaseURL, "/"),
		}, nil
	}
	dir := cfg.AudioOutputDir
	if dir == "" {
		dir = "./output"
	}
	return &localUploader{baseDir: dir}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AudioS3Region),
	}
	if cfg.AudioS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.AudioS3Endpoint,
					HostnameImmutable: cfg.AudioS3PathStyle,
					SigningRegion:     cfg.AudioS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AudioS3PathStyle
	}), nil
}

type s3Uploader struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (UploadResult, error) {
	key = sanitizeKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("put object: %w", err)
	}
	url := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	if s.baseURL != "" {
		url = fmt.Sprintf("%s/%s/%s", s.baseURL, s.bucket, key)
	}
	return UploadResult{URL: url, Size: int64(len(body))}, nil
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (UploadResult, error) {
	path := filepath.Join(l.baseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return UploadResult{}, fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return UploadResult{}, fmt.Errorf("write file: %w", err)
	}
	return UploadResult{URL: path, Size: int64(len(body))}, nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}
