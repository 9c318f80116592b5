// Package archive uploads a run's artifact directory to S3 for retention.
//
// Archiving is best-effort: failures are logged and counted but never alter
// the run's outcome or exit code.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/proctor/log"
	"github.com/pithecene-io/proctor/metrics"
)

// Config configures the S3 archive destination.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("archive bucket is required")
	}
	return nil
}

// ObjectPutter is the S3 surface the uploader needs. *s3.Client satisfies it.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies a run directory into the configured bucket.
type Uploader struct {
	config    Config
	client    ObjectPutter
	logger    *log.Logger
	collector *metrics.Collector
}

// New creates an uploader using the AWS SDK default credential chain
// (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config, logger *log.Logger, collector *metrics.Collector) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewWithClient(cfg, s3.NewFromConfig(awsConfig, s3Opts...), logger, collector), nil
}

// NewWithClient creates an uploader around an existing client (for testing).
func NewWithClient(cfg Config, client ObjectPutter, logger *log.Logger, collector *metrics.Collector) *Uploader {
	return &Uploader{config: cfg, client: client, logger: logger, collector: collector}
}

// UploadRunDir walks the run directory and uploads every regular file to
// s3://bucket/[prefix/]<run-id>/<relative-path>. Symlinks and directories are
// skipped. The first error aborts the walk and is returned, but callers treat
// it as best-effort.
func (u *Uploader) UploadRunDir(ctx context.Context, runID, dir string) error {
	uploaded := 0
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := u.keyFor(runID, rel)

		if err := u.putFile(ctx, key, path); err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		uploaded++
		return nil
	})

	if err != nil {
		u.collector.IncArchiveUploadError()
		u.logger.Error("run archive upload failed", map[string]any{
			"bucket":   u.config.Bucket,
			"uploaded": uploaded,
			"error":    err.Error(),
		})
		return err
	}

	u.collector.IncArchiveUpload()
	u.logger.Info("run archived", map[string]any{
		"bucket": u.config.Bucket,
		"prefix": u.keyFor(runID, ""),
		"files":  uploaded,
	})
	return nil
}

func (u *Uploader) keyFor(runID, rel string) string {
	parts := make([]string, 0, 3)
	if u.config.Prefix != "" {
		parts = append(parts, strings.Trim(u.config.Prefix, "/"))
	}
	parts = append(parts, runID)
	if rel != "" {
		parts = append(parts, filepath.ToSlash(rel))
	}
	return strings.Join(parts, "/")
}

func (u *Uploader) putFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	contentType := contentTypeFor(path)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.config.Bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	})
	return err
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return "application/json"
	default:
		return "text/plain"
	}
}
