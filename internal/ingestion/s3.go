package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config points at a bucket mirroring the archive directory.
type S3Config struct {
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Prefix          string `yaml:"prefix" env:"PREFIX"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	PathStyle       bool   `yaml:"path_style" env:"PATH_STYLE"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
}

// ObjectGetter is the part of *s3.Client the locator needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Locator downloads archives into a temporary file.
type S3Locator struct {
	Client  ObjectGetter
	Bucket  string
	Prefix  string
	TempDir string
	Naming
}

func NewS3Locator(ctx context.Context, cfg S3Config, naming Naming) (*S3Locator, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Locator{Client: client, Bucket: cfg.Bucket, Prefix: cfg.Prefix, Naming: naming}, nil
}

func (l *S3Locator) Locate(ctx context.Context, day time.Time) (string, func(), error) {
	key := path.Join(l.Prefix, l.ArchiveName(day))

	out, err := l.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return "", nil, fmt.Errorf("%w: s3://%s/%s", ErrArchiveNotFound, l.Bucket, key)
		}
		return "", nil, fmt.Errorf("failed to get s3://%s/%s: %w", l.Bucket, key, err)
	}
	defer out.Body.Close()

	f, err := os.CreateTemp(l.TempDir, "tick-archive-*.zip")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp archive: %w", err)
	}
	name := f.Name()

	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(name)
		return "", nil, fmt.Errorf("failed to download s3://%s/%s: %w", l.Bucket, key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", nil, fmt.Errorf("failed to write temp archive: %w", err)
	}

	return name, func() { os.Remove(name) }, nil
}
