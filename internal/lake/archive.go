package lake

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
)

// Archiver mirrors lake files into an S3-compatible bucket. Objects are keyed
// by their path relative to the lake base directory, so the bucket has the
// same layout as the local lake.
type Archiver struct {
	client  *minio.Client
	bucket  string
	baseDir string
	logger  *zap.Logger
}

// NewArchiver connects to the object store and makes sure the bucket exists.
func NewArchiver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Archiver, error) {
	ac := cfg.Lake.Archive
	client, err := minio.New(ac.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(ac.AccessKey, ac.SecretKey, ""),
		Secure: ac.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, ac.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to minio server: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, ac.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", ac.Bucket, err)
		}
		logger.Info("Created lake archive bucket", zap.String("bucket", ac.Bucket))
	}

	return &Archiver{client: client, bucket: ac.Bucket, baseDir: cfg.Lake.BaseDir, logger: logger}, nil
}

// ObjectKey maps a local lake path onto its bucket key.
func ObjectKey(baseDir, localPath string) (string, error) {
	rel, err := filepath.Rel(baseDir, localPath)
	if err != nil {
		return "", err
	}
	return path.Clean(filepath.ToSlash(rel)), nil
}

// ArchiveFile uploads one lake file.
func (a *Archiver) ArchiveFile(ctx context.Context, localPath string) error {
	key, err := ObjectKey(a.baseDir, localPath)
	if err != nil {
		return fmt.Errorf("failed to compute object key: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := a.client.FPutObject(ctx, a.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// ArchiveTree uploads every file below dir. Individual failures are logged and
// counted; the walk continues.
func (a *Archiver) ArchiveTree(ctx context.Context, dir string) (uploaded, failed int, err error) {
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if upErr := a.ArchiveFile(ctx, p); upErr != nil {
			a.logger.Error("Failed to archive lake file", zap.String("path", p), zap.Error(upErr))
			failed++
			return nil
		}
		uploaded++
		return nil
	})
	return uploaded, failed, err
}
