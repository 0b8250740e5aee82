package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewMinioClient creates a MinIO client and makes sure the bucket exists.
func NewMinioClient(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	// Ensure bucket exists
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
	}
	return client, nil
}

// MinioBlob is a Blob stored as a single object in a bucket. Writes are
// conditional on the ETag seen by the digest check, so a writer from another
// process that slipped in between fails the put instead of being overwritten.
type MinioBlob struct {
	client *minio.Client
	bucket string
	key    string
}

func NewMinioBlob(client *minio.Client, bucket, key string) *MinioBlob {
	return &MinioBlob{client: client, bucket: bucket, key: key}
}

func (b *MinioBlob) Read(ctx context.Context) ([]byte, error) {
	data, _, err := b.read(ctx)
	return data, err
}

// read returns the object contents with the ETag of that exact version.
// A missing object yields nil data and an empty ETag.
func (b *MinioBlob) read(ctx context.Context) ([]byte, string, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("minio get %s: %w", b.key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("minio stat %s: %w", b.key, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("minio read %s: %w", b.key, err)
	}
	return data, info.ETag, nil
}

func (b *MinioBlob) Write(ctx context.Context, data []byte, expected Digest) error {
	current, etag, err := b.read(ctx)
	if err != nil {
		return err
	}
	if digestOf(current) != expected {
		return fmt.Errorf("object %s changed since it was read: %w", b.key, ErrConflict)
	}

	_, err = b.client.PutObject(ctx, b.bucket, b.key, bytes.NewReader(data), int64(len(data)), putOptions(etag))
	if isPreconditionFailed(err) {
		return fmt.Errorf("object %s changed during write: %w", b.key, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("minio put %s: %w", b.key, err)
	}
	return nil
}

// putOptions makes the put succeed only against the version with etag, or
// only when the object still does not exist.
func putOptions(etag string) minio.PutObjectOptions {
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if etag == "" {
		opts.SetMatchETagExcept("*")
	} else {
		opts.SetMatchETag(etag)
	}
	return opts
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed
}
