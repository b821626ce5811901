package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds connection settings for an S3-compatible backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioBackend implements Backend against any S3-compatible object store
// via the minio Core client, which exposes the raw multipart operations.
type MinioBackend struct {
	core *minio.Core
}

// NewMinioBackend connects to the configured endpoint.
func NewMinioBackend(cfg MinioConfig) (*MinioBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store at %s: %w", cfg.Endpoint, err)
	}
	return &MinioBackend{core: &minio.Core{Client: client}}, nil
}

// MakeBucket creates the bucket and turns on object versioning. Versioning
// is required so historical file versions stay retrievable after overwrite.
func (b *MinioBackend) MakeBucket(ctx context.Context, bucket string) error {
	err := b.core.Client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && (resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists") {
			return b.core.Client.EnableVersioning(ctx, bucket)
		}
		return fmt.Errorf("make bucket %s: %w", bucket, err)
	}
	if err := b.core.Client.EnableVersioning(ctx, bucket); err != nil {
		return fmt.Errorf("enable versioning on bucket %s: %w", bucket, err)
	}
	return nil
}

// NewMultipartUpload begins a multipart transfer.
func (b *MinioBackend) NewMultipartUpload(ctx context.Context, bucket, object string) (string, error) {
	uploadID, err := b.core.NewMultipartUpload(ctx, bucket, object, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("new multipart upload for %s/%s: %w", bucket, object, err)
	}
	return uploadID, nil
}

// PutObjectPart uploads one part of a multipart transfer.
func (b *MinioBackend) PutObjectPart(ctx context.Context, bucket, object, uploadID string, partNumber int, data io.Reader, size int64) (Part, error) {
	part, err := b.core.PutObjectPart(ctx, bucket, object, uploadID, partNumber, data, size, minio.PutObjectPartOptions{})
	if err != nil {
		return Part{}, fmt.Errorf("put part %d for %s/%s: %w", partNumber, bucket, object, err)
	}
	return Part{Number: part.PartNumber, ETag: part.ETag}, nil
}

// CompleteMultipartUpload commits the transfer.
func (b *MinioBackend) CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []Part) (ObjectInfo, error) {
	completeParts := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completeParts[i] = minio.CompletePart{PartNumber: p.Number, ETag: p.ETag}
	}
	info, err := b.core.CompleteMultipartUpload(ctx, bucket, object, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("complete multipart upload for %s/%s: %w", bucket, object, err)
	}
	return ObjectInfo{ETag: info.ETag, VersionID: info.VersionID, Size: info.Size}, nil
}

// GetObject returns the object content, optionally pinned to a version.
// The client defers existence errors to the first Read, so the object is
// stat'ed up front; callers see ErrObjectNotFound before reading anything.
func (b *MinioBackend) GetObject(ctx context.Context, bucket, object, versionID string) (io.ReadCloser, error) {
	obj, err := b.core.Client.GetObject(ctx, bucket, object, minio.GetObjectOptions{VersionID: versionID})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, object, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		var resp minio.ErrorResponse
		if errors.As(err, &resp) {
			switch resp.Code {
			case "NoSuchKey", "NoSuchVersion", "NoSuchBucket":
				return nil, fmt.Errorf("get object %s/%s: %w", bucket, object, ErrObjectNotFound)
			}
		}
		return nil, fmt.Errorf("stat object %s/%s: %w", bucket, object, err)
	}
	return obj, nil
}
