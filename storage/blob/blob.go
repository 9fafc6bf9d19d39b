// Package blob stores flow state in a gocloud.dev bucket (S3, GCS, Azure, or a
// local directory). Object stores have no compare-and-swap, so this store does
// not implement storage.Updater. It suits deployments where a single process
// owns each flow.
package blob

import (
	"context"
	"encoding/base64"

	"github.com/pardot/oidcservice/storage"
	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

var _ storage.Storage = (*Storage)(nil)

type Storage struct {
	bucket *blob.Bucket
	prefix string
}

// Open opens the bucket at bucketURL. The driver for the URL scheme must be
// registered by importing it, e.g. gocloud.dev/blob/s3blob.
func Open(ctx context.Context, bucketURL, prefix string) (*Storage, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, errors.Wrapf(err, "opening bucket %s", bucketURL)
	}
	return New(bucket, prefix), nil
}

// New wraps an already open bucket.
func New(bucket *blob.Bucket, prefix string) *Storage {
	return &Storage{bucket: bucket, prefix: prefix}
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	data, err := s.bucket.ReadAll(ctx, s.keyFor(key))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return "", &storage.NotFoundError{Key: key}
		}
		return "", errors.Wrapf(err, "reading %s", key)
	}
	return string(data), nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	err := s.bucket.WriteAll(ctx, s.keyFor(key), []byte(value), &blob.WriterOptions{
		ContentType: "application/octet-stream",
	})
	return errors.Wrapf(err, "writing %s", key)
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, s.keyFor(key))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return errors.Wrapf(err, "deleting %s", key)
}

func (s *Storage) Close() error {
	return s.bucket.Close()
}

// keyFor encodes the key, as flow state keys contain characters like ".." and
// ":" that some providers treat specially.
func (s *Storage) keyFor(key string) string {
	return s.prefix + base64.RawURLEncoding.EncodeToString([]byte(key))
}
