package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// DefaultChunkSize is the upload part size used when none is configured.
const DefaultChunkSize = 8 << 20

// UploadResult describes a completed upload. ETag is the backend's own
// checksum of the stored object (a multipart composite on S3), not a hash
// of the uploaded content.
type UploadResult struct {
	ETag             string
	StorageVersionID string
	Size             int64
}

// FileStore stores entity files in one versioned container per project.
type FileStore struct {
	backend   Backend
	chunkSize int64
	logger    *slog.Logger
}

// NewFileStore creates a FileStore. A chunkSize of zero selects
// DefaultChunkSize.
func NewFileStore(backend Backend, chunkSize int64, logger *slog.Logger) *FileStore {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{backend: backend, chunkSize: chunkSize, logger: logger}
}

// ContainerName derives the bucket name for a project key. Bucket naming
// rules (lowercase, digits, hyphens) are stricter than project keys, so the
// key is normalized.
func ContainerName(projectKey string) string {
	name := strings.ToLower(projectKey)
	mapped := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			mapped = append(mapped, r)
		default:
			mapped = append(mapped, '-')
		}
	}
	return "tracklab-" + string(mapped)
}

// CreateContainer provisions the project's container with versioning on.
func (s *FileStore) CreateContainer(ctx context.Context, projectKey string) error {
	return s.backend.MakeBucket(ctx, ContainerName(projectKey))
}

// Upload streams r into the project's container under objectKey using the
// multipart protocol: one part per chunk read, numbered from 1. Memory use
// is bounded by the chunk size. A zero-byte stream still produces one
// (empty) part, because the backend requires at least one part to complete
// a transfer.
func (s *FileStore) Upload(ctx context.Context, projectKey, objectKey string, r io.Reader) (UploadResult, error) {
	bucket := ContainerName(projectKey)

	uploadID, err := s.backend.NewMultipartUpload(ctx, bucket, objectKey)
	if err != nil {
		return UploadResult{}, err
	}

	buf := make([]byte, s.chunkSize)
	var parts []Part
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			part, err := s.backend.PutObjectPart(ctx, bucket, objectKey, uploadID, len(parts)+1, bytes.NewReader(buf[:n]), int64(n))
			if err != nil {
				return UploadResult{}, err
			}
			parts = append(parts, part)
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return UploadResult{}, fmt.Errorf("read upload stream for %s/%s: %w", bucket, objectKey, readErr)
		}
	}

	if len(parts) == 0 {
		part, err := s.backend.PutObjectPart(ctx, bucket, objectKey, uploadID, 1, bytes.NewReader(nil), 0)
		if err != nil {
			return UploadResult{}, err
		}
		parts = append(parts, part)
	}

	info, err := s.backend.CompleteMultipartUpload(ctx, bucket, objectKey, uploadID, parts)
	if err != nil {
		return UploadResult{}, err
	}

	s.logger.Debug("uploaded object",
		"bucket", bucket, "object", objectKey,
		"parts", len(parts), "size", info.Size, "version", info.VersionID)

	return UploadResult{
		ETag:             info.ETag,
		StorageVersionID: info.VersionID,
		Size:             info.Size,
	}, nil
}

// Download returns the latest version of the object.
func (s *FileStore) Download(ctx context.Context, projectKey, objectKey string) (io.ReadCloser, error) {
	return s.backend.GetObject(ctx, ContainerName(projectKey), objectKey, "")
}

// DownloadVersion returns a specific historical version of the object.
func (s *FileStore) DownloadVersion(ctx context.Context, projectKey, objectKey, versionID string) (io.ReadCloser, error) {
	return s.backend.GetObject(ctx, ContainerName(projectKey), objectKey, versionID)
}
