package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the release mirror.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO, LocalStack
	Prefix   string
}

// s3API is the subset of *s3.Client the mirror calls.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Mirror uploads committed releases to a bucket under prefix/releaseID/.
type S3Mirror struct {
	client s3API
	bucket string
	prefix string
}

func NewS3Mirror(ctx context.Context, cfg S3Config) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 mirror: bucket is empty")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Mirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (m *S3Mirror) key(releaseID, name string) string {
	return path.Join(m.prefix, releaseID, name)
}

// Push uploads every file; objects already present are skipped.
func (m *S3Mirror) Push(ctx context.Context, releaseID, dir string, files []string) error {
	for _, name := range files {
		key := m.key(releaseID, name)
		if _, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(key),
		}); err == nil {
			continue
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(m.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String("application/octet-stream"),
		})
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("s3 put %s failed: %w", key, err)
		}
	}
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(path.Join(m.prefix, currentFile)),
		Body:        strings.NewReader(releaseID + "\n"),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("s3 put current pointer failed: %w", err)
	}
	return nil
}

// Latest returns the release id the mirror's CURRENT object points at.
func (m *S3Mirror) Latest(ctx context.Context) (string, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(path.Join(m.prefix, currentFile)),
	})
	if err != nil {
		return "", fmt.Errorf("s3 get current pointer failed: %w", err)
	}
	defer func() { _ = out.Body.Close() }()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(raw))
	if id == "" {
		return "", ErrNoRelease
	}
	return id, nil
}

// Pull downloads a release into dir, used to seed a fresh node.
func (m *S3Mirror) Pull(ctx context.Context, releaseID, dir string, files []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, name := range files {
		key := m.key(releaseID, name)
		out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("s3 get %s failed: %w", key, err)
		}
		data, err := io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
