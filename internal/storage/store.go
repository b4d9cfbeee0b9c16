// Package storage holds process state (mirror checkpoints, worker settings
// and the remote write outbox) in a bbolt file.
package storage

import (
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
)

// Named buckets created on open.
const (
	StateBucket  = "state"
	OutboxBucket = "outbox"
)

// Store provides persistent key-value storage using BoltDB.
// The Store methods operate on the state bucket; use Bucket for the others.
type Store struct {
	db    *bolt.DB
	state *Bucket
}

// NewStore opens (or creates) the database and its buckets.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{StateBucket, OutboxBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	s := &Store{db: db}
	s.state = s.Bucket(StateBucket)
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Bucket returns a handle on a named bucket. The bucket is created lazily
// on first write if it does not exist yet.
func (s *Store) Bucket(name string) *Bucket {
	return &Bucket{db: s.db, name: []byte(name)}
}

func (s *Store) Set(key, value string) error { return s.state.Set(key, value) }
func (s *Store) Get(key string) (string, error) { return s.state.Get(key) }
func (s *Store) Has(key string) bool { return s.state.Has(key) }
func (s *Store) Delete(key string) error { return s.state.Delete(key) }
func (s *Store) Clear() error { return s.state.Clear() }
func (s *Store) Keys() ([]string, error) { return s.state.Keys() }
func (s *Store) GetWithDefault(key, def string) string { return s.state.GetWithDefault(key, def) }
func (s *Store) IteratePrefix(prefix string, fn func(key, value string) error) error {
	return s.state.IteratePrefix(prefix, fn)
}

// Bucket is a named key space inside a Store.
type Bucket struct {
	db   *bolt.DB
	name []byte
}

func (b *Bucket) update(fn func(bk *bolt.Bucket) error) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(b.name)
		if err != nil {
			return err
		}
		return fn(bk)
	})
}

// view calls fn with a nil bucket if it was never created.
func (b *Bucket) view(fn func(bk *bolt.Bucket) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(b.name))
	})
}

// Set stores a key-value pair
func (b *Bucket) Set(key, value string) error {
	return b.update(func(bk *bolt.Bucket) error {
		return bk.Put([]byte(key), []byte(value))
	})
}

// Get retrieves a value by key. Missing keys wrap apperr.ErrNotFound.
func (b *Bucket) Get(key string) (string, error) {
	var value string
	err := b.view(func(bk *bolt.Bucket) error {
		var v []byte
		if bk != nil {
			v = bk.Get([]byte(key))
		}
		if v == nil {
			return fmt.Errorf("key %s: %w", key, apperr.ErrNotFound)
		}
		value = string(v)
		return nil
	})
	return value, err
}

// Has checks if a key exists
func (b *Bucket) Has(key string) bool {
	var exists bool
	b.view(func(bk *bolt.Bucket) error {
		exists = bk != nil && bk.Get([]byte(key)) != nil
		return nil
	})
	return exists
}

// Delete removes a key-value pair
func (b *Bucket) Delete(key string) error {
	return b.update(func(bk *bolt.Bucket) error {
		return bk.Delete([]byte(key))
	})
}

// Clear removes all key-value pairs
func (b *Bucket) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(b.name); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(b.name)
		return err
	})
}

// Keys returns all keys in byte order.
func (b *Bucket) Keys() ([]string, error) {
	var keys []string
	err := b.view(func(bk *bolt.Bucket) error {
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// GetWithDefault retrieves a value or returns a default if not found
func (b *Bucket) GetWithDefault(key, defaultValue string) string {
	value, err := b.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

// IteratePrefix calls fn for every key starting with prefix, in byte order.
// An error from fn stops the iteration and is returned.
func (b *Bucket) IteratePrefix(prefix string, fn func(key, value string) error) error {
	p := []byte(prefix)
	return b.view(func(bk *bolt.Bucket) error {
		if bk == nil {
			return nil
		}
		c := bk.Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := fn(string(k), string(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// NextSequence returns a monotonically increasing id for this bucket.
func (b *Bucket) NextSequence() (uint64, error) {
	var seq uint64
	err := b.update(func(bk *bolt.Bucket) error {
		var err error
		seq, err = bk.NextSequence()
		return err
	})
	return seq, err
}
