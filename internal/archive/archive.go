// Package archive writes dead-lettered jobs to durable storage before the
// retention janitor deletes them from the ledger.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"followup-escalator/internal/clock"
	"followup-escalator/internal/config"
	"followup-escalator/internal/models"
)

// Uploader stores one object and returns where it went.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Archiver batches jobs into a JSON-lines object per sweep.
type Archiver struct {
	uploader Uploader
	prefix   string
	clock    clock.Clock
}

func NewArchiver(uploader Uploader, prefix string, clk clock.Clock) *Archiver {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Archiver{uploader: uploader, prefix: prefix, clock: clk}
}

// New picks S3 when a bucket is configured and the local directory otherwise.
func New(ctx context.Context, cfg config.Config) (*Archiver, error) {
	if cfg.ArchiveS3Bucket == "" {
		return NewArchiver(&LocalUploader{BaseDir: cfg.ArchiveDir}, cfg.ArchivePrefix, nil), nil
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewArchiver(&S3Uploader{Client: client, Bucket: cfg.ArchiveS3Bucket}, cfg.ArchivePrefix, nil), nil
}

// Archive writes jobs as one JSON object per line. It returns "" when there is
// nothing to write.
func (a *Archiver) Archive(ctx context.Context, jobs []models.Job) (string, error) {
	if len(jobs) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, job := range jobs {
		if err := enc.Encode(job); err != nil {
			return "", fmt.Errorf("encode job %s: %w", job.ID, err)
		}
	}
	now := a.clock.Now().UTC()
	key := path.Join(a.prefix, now.Format("2006/01/02"), fmt.Sprintf("dead-letters-%s.jsonl", now.Format("20060102T150405.000Z")))
	return a.uploader.Upload(ctx, key, buf.Bytes(), "application/x-ndjson")
}

// LocalUploader writes objects below BaseDir.
type LocalUploader struct {
	BaseDir string
}

func (l *LocalUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	baseDir := l.BaseDir
	if baseDir == "" {
		baseDir = "./archive"
	}
	p := filepath.Join(baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return p, nil
}

// S3Uploader puts objects into a bucket.
type S3Uploader struct {
	Client *s3.Client
	Bucket string
}

func (s *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key), nil
}

// NewS3Client loads the default AWS credential chain. A custom endpoint
// supports MinIO and other S3-compatible stores.
func NewS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx, awsconfig.WithRegion(cfg.ArchiveS3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ArchiveS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ArchiveS3Endpoint)
		}
		o.UsePathStyle = cfg.ArchiveS3PathStyle
	}), nil
}
