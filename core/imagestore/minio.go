package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/m3rciful/visionbot/core/logger"
)

const objectPrefix = "photos/"

// MinioOptions holds S3-compatible connection settings.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Minio stores one object per user in an S3-compatible bucket.
type Minio struct {
	mc     *minio.Client
	bucket string
}

// NewMinio creates the client and makes sure the bucket exists.
func NewMinio(ctx context.Context, opts MinioOptions) (*Minio, error) {
	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
		logger.Info(ctx, "images", "bucket.created", slog.String("bucket", opts.Bucket))
	}
	return &Minio{mc: mc, bucket: opts.Bucket}, nil
}

func objectKey(userID int64) string {
	return objectPrefix + "userID_" + strconv.FormatInt(userID, 10) + "_photo.jpg"
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}

func (s *Minio) Put(ctx context.Context, userID int64, data []byte) error {
	key := objectKey(userID)
	_, err := s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", s.bucket, key, err)
	}
	logger.Debug(ctx, "images", "put", slog.String("key", key), slog.Int("bytes", len(data)))
	return nil
}

func (s *Minio) Get(ctx context.Context, userID int64) ([]byte, error) {
	key := objectKey(userID)
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", s.bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

func (s *Minio) Remove(ctx context.Context, userID int64) error {
	key := objectKey(userID)
	if err := s.mc.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *Minio) Clear(ctx context.Context) error {
	_, err := s.removeWhere(ctx, func(minio.ObjectInfo) bool { return true })
	return err
}

func (s *Minio) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	return s.removeWhere(ctx, func(obj minio.ObjectInfo) bool {
		return obj.LastModified.Before(olderThan)
	})
}

func (s *Minio) removeWhere(ctx context.Context, match func(minio.ObjectInfo) bool) (int, error) {
	var errs []error
	n := 0
	for obj := range s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: objectPrefix, Recursive: true}) {
		if obj.Err != nil {
			return n, fmt.Errorf("list %s: %w", s.bucket, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") || !match(obj) {
			continue
		}
		if err := s.mc.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("delete %s/%s: %w", s.bucket, obj.Key, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
