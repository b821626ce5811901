package blobstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend is an in-memory versioned object store. It implements the
// same multipart protocol as the S3 backend and is used for tests and the
// `memory` blob backend in local development. Safe for concurrent use.
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string]map[string][]objectVersion
	pending map[string]*pendingUpload
}

type objectVersion struct {
	versionID string
	etag      string
	data      []byte
	partSizes []int64
}

type pendingUpload struct {
	bucket string
	object string
	parts  map[int][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buckets: make(map[string]map[string][]objectVersion),
		pending: make(map[string]*pendingUpload),
	}
}

// MakeBucket provisions a bucket. Idempotent.
func (b *MemoryBackend) MakeBucket(ctx context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[bucket]; !ok {
		b.buckets[bucket] = make(map[string][]objectVersion)
	}
	return nil
}

// NewMultipartUpload begins a multipart transfer.
func (b *MemoryBackend) NewMultipartUpload(ctx context.Context, bucket, object string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[bucket]; !ok {
		return "", fmt.Errorf("bucket %s does not exist", bucket)
	}
	uploadID := uuid.New().String()
	b.pending[uploadID] = &pendingUpload{
		bucket: bucket,
		object: object,
		parts:  make(map[int][]byte),
	}
	return uploadID, nil
}

// PutObjectPart stores one part of a pending transfer.
func (b *MemoryBackend) PutObjectPart(ctx context.Context, bucket, object, uploadID string, partNumber int, data io.Reader, size int64) (Part, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return Part{}, fmt.Errorf("read part %d: %w", partNumber, err)
	}
	if int64(len(buf)) != size {
		return Part{}, fmt.Errorf("part %d size mismatch: got %d, declared %d", partNumber, len(buf), size)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	upload, ok := b.pending[uploadID]
	if !ok {
		return Part{}, fmt.Errorf("unknown upload id %s", uploadID)
	}
	upload.parts[partNumber] = buf

	sum := md5.Sum(buf)
	return Part{Number: partNumber, ETag: hex.EncodeToString(sum[:])}, nil
}

// CompleteMultipartUpload assembles the parts in part-number order and
// appends a new object version.
func (b *MemoryBackend) CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []Part) (ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	upload, ok := b.pending[uploadID]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("unknown upload id %s", uploadID)
	}
	if len(parts) == 0 {
		return ObjectInfo{}, fmt.Errorf("complete upload %s: at least one part is required", uploadID)
	}

	var data []byte
	partSizes := make([]int64, 0, len(parts))
	for i, p := range parts {
		if p.Number != i+1 {
			return ObjectInfo{}, fmt.Errorf("complete upload %s: part %d out of order", uploadID, p.Number)
		}
		chunk, ok := upload.parts[p.Number]
		if !ok {
			return ObjectInfo{}, fmt.Errorf("complete upload %s: part %d was never uploaded", uploadID, p.Number)
		}
		data = append(data, chunk...)
		partSizes = append(partSizes, int64(len(chunk)))
	}
	delete(b.pending, uploadID)

	sum := md5.Sum(data)
	version := objectVersion{
		versionID: uuid.New().String(),
		etag:      hex.EncodeToString(sum[:]),
		data:      data,
		partSizes: partSizes,
	}
	b.buckets[bucket][object] = append(b.buckets[bucket][object], version)

	return ObjectInfo{ETag: version.etag, VersionID: version.versionID, Size: int64(len(data))}, nil
}

// GetObject returns the object content; empty versionID means latest.
func (b *MemoryBackend) GetObject(ctx context.Context, bucket, object, versionID string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	objects, ok := b.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("bucket %s: %w", bucket, ErrObjectNotFound)
	}
	versions, ok := objects[object]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("object %s/%s: %w", bucket, object, ErrObjectNotFound)
	}
	if versionID == "" {
		latest := versions[len(versions)-1]
		return io.NopCloser(bytes.NewReader(latest.data)), nil
	}
	for _, v := range versions {
		if v.versionID == versionID {
			return io.NopCloser(bytes.NewReader(v.data)), nil
		}
	}
	return nil, fmt.Errorf("object %s/%s version %s: %w", bucket, object, versionID, ErrObjectNotFound)
}

// VersionCount reports how many versions an object holds.
func (b *MemoryBackend) VersionCount(bucket, object string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets[bucket][object])
}

// lastPartSizes returns the part sizes of the latest version. Test helper.
func (b *MemoryBackend) lastPartSizes(bucket, object string) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	versions := b.buckets[bucket][object]
	if len(versions) == 0 {
		return nil
	}
	return versions[len(versions)-1].partSizes
}
