// Package remotetest provides an in-memory remote.Store with fault
// injection for tests.
package remotetest

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/remote"
	"github.com/imdevinc/recipe-mirror/internal/util"
)

type entry struct {
	collection string
	update     remote.Update
}

// Store is an in-memory remote.Store and remote.Feed.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	log         []entry
	seq         int
	changed     chan struct{}

	setErr      error
	failSets    int
	setCalls    int
	watchErr    error
	failWatches int
}

var (
	_ remote.Store = (*Store)(nil)
	_ remote.Feed  = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]map[string]any),
		changed:     make(chan struct{}),
	}
}

// notify wakes all watchers. Callers hold mu.
func (s *Store) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) record(collection string, u remote.Update) {
	s.seq++
	u.Seq = strconv.Itoa(s.seq)
	s.log = append(s.log, entry{collection: collection, update: u})
	s.notify()
}

// Put replaces a document as if another client wrote it.
func (s *Store) Put(collection, id string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(collection, id, maps.Clone(fields))
}

func (s *Store) put(collection, id string, fields map[string]any) {
	docs := s.collections[collection]
	if docs == nil {
		docs = make(map[string]map[string]any)
		s.collections[collection] = docs
	}
	docs[id] = fields
	s.record(collection, remote.Update{ID: id, Fields: maps.Clone(fields)})
}

// Delete removes a document as if another client deleted it.
func (s *Store) Delete(collection, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return
	}
	delete(s.collections[collection], id)
	s.record(collection, remote.Update{ID: id, Deleted: true})
}

// FailSets makes the next n Set calls return err. n < 0 fails every call
// until FailSets(0, nil).
func (s *Store) FailSets(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSets = n
	s.setErr = err
}

// SetCalls counts Set invocations, failed ones included.
func (s *Store) SetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls
}

// FailWatches breaks active watches and makes the next n Initial or Watch
// calls fail with err.
func (s *Store) FailWatches(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWatches = n
	s.watchErr = err
	s.notify()
}

// takeWatchErr consumes one injected feed failure. Callers hold mu.
func (s *Store) takeWatchErr() error {
	if s.failWatches == 0 {
		return nil
	}
	s.failWatches--
	return s.watchErr
}

// Has reports whether a document exists.
func (s *Store) Has(collection, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[collection][id]
	return ok
}

func (s *Store) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.collections[collection][id]
	if !ok {
		return remote.Document{}, fmt.Errorf("%s/%s: %w", collection, id, apperr.ErrNotFound)
	}
	return remote.Document{ID: id, Fields: maps.Clone(fields)}, nil
}

func (s *Store) Query(ctx context.Context, q remote.Query) ([]remote.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	docs, _, err := s.snapshot(q.Collection)
	if err != nil {
		return nil, err
	}
	return q.Apply(docs), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.failSets != 0 {
		if s.failSets > 0 {
			s.failSets--
		}
		return fmt.Errorf("set %s/%s: %w", collection, id, s.setErr)
	}

	merged := maps.Clone(s.collections[collection][id])
	if merged == nil {
		merged = make(map[string]any, len(fields))
	}
	maps.Copy(merged, fields)
	s.put(collection, id, merged)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, q remote.Query) (*remote.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	fast := util.RetryConfig{
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		Multiplier:     2,
	}
	return remote.NewSubscription(ctx, s, q, remote.WithBackoff(fast)), nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) snapshot(collection string) ([]remote.Document, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]remote.Document, 0, len(s.collections[collection]))
	for id, fields := range s.collections[collection] {
		docs = append(docs, remote.Document{ID: id, Fields: maps.Clone(fields)})
	}
	return docs, strconv.Itoa(s.seq), nil
}

func (s *Store) Initial(ctx context.Context, collection string) ([]remote.Document, string, error) {
	s.mu.Lock()
	err := s.takeWatchErr()
	s.mu.Unlock()
	if err != nil {
		return nil, "", err
	}
	return s.snapshot(collection)
}

func (s *Store) Watch(ctx context.Context, collection, since string, emit func([]remote.Update) error) error {
	from, _ := strconv.Atoi(since)

	for {
		s.mu.Lock()
		if s.failWatches > 0 {
			err := s.takeWatchErr()
			s.mu.Unlock()
			return err
		}
		var batch []remote.Update
		for _, e := range s.log {
			seq, _ := strconv.Atoi(e.update.Seq)
			if seq <= from {
				continue
			}
			from = seq
			if e.collection == collection {
				batch = append(batch, e.update)
			}
		}
		wait := s.changed
		s.mu.Unlock()

		if len(batch) > 0 {
			if err := emit(batch); err != nil {
				return err
			}
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return nil
		}
	}
}
