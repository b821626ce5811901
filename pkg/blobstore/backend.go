// Package blobstore provides content-addressed, versioned file storage for
// tracker entities. Each project gets one container (bucket) with object
// versioning enabled; uploads stream through a bounded buffer using the
// backend's multipart protocol, so memory use is independent of file size.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by GetObject when the object, or the
// requested version of it, does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Part identifies one uploaded part of a multipart transfer.
type Part struct {
	Number int
	ETag   string
}

// ObjectInfo describes a completed object version.
type ObjectInfo struct {
	ETag      string
	VersionID string
	Size      int64
}

// Backend is the subset of a versioned object store the file store needs.
// Implemented by MinioBackend for S3-compatible storage and MemoryBackend
// for tests and local development.
type Backend interface {
	// MakeBucket provisions a bucket with object versioning enabled.
	// Creating a bucket that already exists is not an error.
	MakeBucket(ctx context.Context, bucket string) error

	// NewMultipartUpload begins a multipart transfer and returns its id.
	NewMultipartUpload(ctx context.Context, bucket, object string) (string, error)

	// PutObjectPart uploads one part. Parts are numbered from 1.
	PutObjectPart(ctx context.Context, bucket, object, uploadID string, partNumber int, data io.Reader, size int64) (Part, error)

	// CompleteMultipartUpload commits the transfer and returns the new
	// object version.
	CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []Part) (ObjectInfo, error)

	// GetObject returns the object's content. An empty versionID selects
	// the latest version. A missing object or version is reported as
	// ErrObjectNotFound before any content is readable.
	GetObject(ctx context.Context, bucket, object, versionID string) (io.ReadCloser, error)
}
