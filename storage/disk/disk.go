package disk

import (
	"context"
	"os"

	"github.com/pardot/oidcservice/storage"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var _ storage.Storage = (*Storage)(nil)
var _ storage.Updater = (*Storage)(nil)

var bucketName = []byte("flow_state")

// Storage persists flow state in a bbolt database file. bbolt takes an
// exclusive lock on the file, so only one process can use it at a time.
type Storage struct {
	db *bolt.DB
}

func New(path string, mode os.FileMode) (*Storage, error) {
	db, err := bolt.Open(path, mode, &bolt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating bucket")
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Get(_ context.Context, key string) (string, error) {
	var val string

	err := s.db.View(func(tx *bolt.Tx) error {
		o := tx.Bucket(bucketName).Get([]byte(key))
		if o == nil {
			return &storage.NotFoundError{Key: key}
		}
		// the slice is only valid for the life of the transaction
		val = string(o)
		return nil
	})

	return val, err
}

func (s *Storage) Set(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
}

func (s *Storage) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// Update runs fn inside a single read-write transaction. bbolt allows one
// writer at a time, so this never conflicts.
func (s *Storage) Update(_ context.Context, key string, fn storage.UpdateFunc) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		o := b.Get([]byte(key))
		nv, err := fn(string(o), o != nil)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(nv))
	})
}

func (s *Storage) Close() error {
	return s.db.Close()
}
