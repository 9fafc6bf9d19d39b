// Package redis stores flow state in Redis, so several client processes can
// share in-flight flows.
package redis

import (
	"context"
	"time"

	"github.com/pardot/oidcservice/storage"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ storage.Storage = (*Storage)(nil)
var _ storage.Updater = (*Storage)(nil)

const (
	// DefaultKeyPrefix is prepended to every key unless overridden.
	DefaultKeyPrefix = "oidcservice:"

	maxUpdateAttempts = 10
)

// Option configures the store.
type Option func(*Storage)

// WithKeyPrefix sets the prefix keys are namespaced under.
func WithKeyPrefix(prefix string) Option {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// WithTTL expires keys the given duration after they were last written. Flows
// that are never finished are then cleaned up by Redis. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Storage) {
		s.ttl = ttl
	}
}

type Storage struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New returns a store using the given client. The client is not closed by the
// store.
func New(client redis.UniversalClient, opts ...Option) *Storage {
	s := &Storage{
		client: client,
		prefix: DefaultKeyPrefix,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Storage) key(k string) string {
	return s.prefix + k
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", &storage.NotFoundError{Key: key}
	}
	if err != nil {
		return "", errors.Wrapf(err, "getting %s", key)
	}
	return v, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	return errors.Wrapf(s.client.Set(ctx, s.key(key), value, s.ttl).Err(), "setting %s", key)
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(s.client.Del(ctx, s.key(key)).Err(), "deleting %s", key)
}

// Update uses WATCH and a MULTI/EXEC transaction, retrying when another client
// modifies the key between the read and the write.
func (s *Storage) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	rk := s.key(key)

	txf := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, rk).Result()
		found := true
		if err == redis.Nil {
			found = false
		} else if err != nil {
			return err
		}

		nv, err := fn(old, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, nv, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.client.Watch(ctx, txf, rk)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}

	return &storage.ConflictError{Key: key}
}
