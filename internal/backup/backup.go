// Package backup ships encrypted snapshots of the SQLite database to
// S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectStore is the subset of the S3 client used here.
type objectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds S3-compatible storage settings and the snapshot passphrase.
type Config struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	Prefix     string
	Passphrase string
	// Retention is how long snapshots are kept. Zero keeps them forever.
	Retention time.Duration
}

// Enabled reports whether enough is configured to upload snapshots.
func (c Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

var ErrDisabled = errors.New("backup not configured")

const keyTimeFormat = "2006-01-02T150405Z"

type Uploader struct {
	cfg    Config
	db     *sql.DB
	client objectStore
	logger *slog.Logger
	now    func() time.Time
}

func NewUploader(cfg Config, db *sql.DB, logger *slog.Logger) (*Uploader, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	return newUploader(cfg, db, newS3Client(cfg), logger), nil
}

func newUploader(cfg Config, db *sql.DB, client objectStore, logger *slog.Logger) *Uploader {
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Uploader{cfg: cfg, db: db, client: client, logger: logger, now: time.Now}
}

func newS3Client(cfg Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (u *Uploader) key(t time.Time) string {
	name := fmt.Sprintf("likerland-%s.db.enc", t.UTC().Format(keyTimeFormat))
	if u.cfg.Prefix == "" {
		return name
	}
	return u.cfg.Prefix + "/" + name
}

// Run snapshots the database, encrypts the snapshot and uploads it. It
// returns the object key.
func (u *Uploader) Run(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "likerland-backup-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	// VACUUM INTO yields a consistent copy of a live WAL database.
	snapshot := filepath.Join(dir, "snapshot.db")
	if _, err := u.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return "", fmt.Errorf("snapshot database: %w", err)
	}
	plaintext, err := os.ReadFile(snapshot)
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}
	sealed, err := Encrypt(plaintext, u.cfg.Passphrase)
	if err != nil {
		return "", err
	}

	key := u.key(u.now())
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	u.logger.Info("backup uploaded", "key", key, "bytes", len(sealed))
	return key, nil
}

// Prune deletes snapshots older than the retention period and returns how
// many were removed. Objects not written by Run are left alone.
func (u *Uploader) Prune(ctx context.Context) (int, error) {
	if u.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := u.now().Add(-u.cfg.Retention)

	prefix := "likerland-"
	if u.cfg.Prefix != "" {
		prefix = u.cfg.Prefix + "/" + prefix
	}

	var (
		deleted int
		token   *string
	)
	for {
		out, err := u.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(u.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return deleted, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			if _, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(u.cfg.Bucket),
				Key:    obj.Key,
			}); err != nil {
				u.logger.Warn("delete old backup", "key", aws.ToString(obj.Key), "error", err)
				continue
			}
			deleted++
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return deleted, nil
}

// Schedule runs a backup and prune every interval until ctx is done.
func (u *Uploader) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := u.Run(ctx); err != nil {
				u.logger.Error("scheduled backup failed", "error", err)
				continue
			}
			if n, err := u.Prune(ctx); err != nil {
				u.logger.Error("backup cleanup failed", "error", err)
			} else if n > 0 {
				u.logger.Info("old backups removed", "count", n)
			}
		}
	}
}
