// Package dirstore implements remote.Store on a directory of JSON files,
// one file per document at <baseDir>/<collection>/<id>.json. Changes made
// by other processes are picked up with fsnotify.
package dirstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/remote"
	"github.com/imdevinc/recipe-mirror/internal/util"
)

const (
	docExt        = ".json"
	debounceDelay = 250 * time.Millisecond
)

// Store is a directory-backed remote.Store.
type Store struct {
	baseDir  string
	logger   *slog.Logger
	debounce time.Duration

	// serializes read-modify-write in Set
	mu sync.Mutex
}

var (
	_ remote.Store = (*Store)(nil)
	_ remote.Feed  = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithDebounce overrides the delay used to coalesce file events.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		s.debounce = d
	}
}

// New creates baseDir if needed and returns a store rooted there.
func New(baseDir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base dir %s: %w", abs, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		baseDir:  abs,
		logger:   logger.With("remote", "directory"),
		debounce: debounceDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) collectionDir(collection string) string {
	return filepath.Join(s.baseDir, collection)
}

func (s *Store) docPath(collection, id string) string {
	return filepath.Join(s.collectionDir(collection), id+docExt)
}

// validID rejects ids that would escape the collection directory.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("document id %q: %w", id, apperr.ErrInvalid)
	}
	return nil
}

// docID returns the document id for a file name, or "" for files that are
// not documents.
func docID(name string) string {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, docExt) {
		return ""
	}
	return strings.TrimSuffix(base, docExt)
}

func readFields(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, apperr.ErrMalformedDocument, err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	if err := validID(id); err != nil {
		return remote.Document{}, err
	}
	fields, err := readFields(s.docPath(collection, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return remote.Document{}, fmt.Errorf("%s/%s: %w", collection, id, apperr.ErrNotFound)
		}
		return remote.Document{}, err
	}
	return remote.Document{ID: id, Fields: fields}, nil
}

func (s *Store) Query(ctx context.Context, q remote.Query) ([]remote.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	docs, err := s.list(q.Collection)
	if err != nil {
		return nil, err
	}
	return q.Apply(docs), nil
}

// list reads every document of a collection, skipping unreadable files.
func (s *Store) list(collection string) ([]remote.Document, error) {
	entries, err := os.ReadDir(s.collectionDir(collection))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	docs := make([]remote.Document, 0, len(entries))
	for _, e := range entries {
		id := docID(e.Name())
		if e.IsDir() || id == "" {
			continue
		}
		fields, err := readFields(filepath.Join(s.collectionDir(collection), e.Name()))
		if err != nil {
			s.logger.Warn("Skipping unreadable document", "collection", collection, "id", id, "error", err)
			continue
		}
		docs = append(docs, remote.Document{ID: id, Fields: fields})
	}
	return docs, nil
}

// Set merges fields into the document file and replaces it atomically.
func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := validID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.docPath(collection, id)
	merged, err := readFields(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		merged = make(map[string]any, len(fields))
	}
	maps.Copy(merged, fields)

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	err = util.Retry(ctx, util.DefaultRetryConfig(), func() error {
		return writeAtomic(path, data)
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) Subscribe(ctx context.Context, q remote.Query) (*remote.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return remote.NewSubscription(ctx, s, q, remote.WithLogger(s.logger)), nil
}

func (s *Store) Close() error {
	return nil
}

func nowSeq() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// Initial lists the collection. The sequence is the listing time in unix
// nanoseconds.
func (s *Store) Initial(ctx context.Context, collection string) ([]remote.Document, string, error) {
	seq := nowSeq()
	docs, err := s.list(collection)
	if err != nil {
		return nil, "", err
	}
	return docs, seq, nil
}

// Watch emits files modified after since, then live changes. Deletions that
// happened while no watch was running are not replayed.
func (s *Store) Watch(ctx context.Context, collection, since string, emit func([]remote.Update) error) error {
	dir := s.collectionDir(collection)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.logger.Debug("Watching directory", "path", dir)

	if err := s.catchUp(collection, since, emit); err != nil {
		return err
	}

	pending := make(map[string]struct{})
	timer := time.NewTimer(s.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher for %s closed", dir)
			}
			id := docID(event.Name)
			if id == "" || event.Op == fsnotify.Chmod {
				continue
			}
			pending[id] = struct{}{}
			timer.Reset(s.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher for %s closed", dir)
			}
			return fmt.Errorf("watcher error: %w", err)

		case <-timer.C:
			updates := s.resolve(collection, pending)
			clear(pending)
			if len(updates) == 0 {
				continue
			}
			if err := emit(updates); err != nil {
				return err
			}
		}
	}
}

// resolve turns debounced ids into updates by reading their current state.
func (s *Store) resolve(collection string, ids map[string]struct{}) []remote.Update {
	seq := nowSeq()
	updates := make([]remote.Update, 0, len(ids))
	for id := range ids {
		fields, err := readFields(s.docPath(collection, id))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			updates = append(updates, remote.Update{Seq: seq, ID: id, Deleted: true})
		case err != nil:
			s.logger.Warn("Skipping unreadable document", "collection", collection, "id", id, "error", err)
		default:
			updates = append(updates, remote.Update{Seq: seq, ID: id, Fields: fields})
		}
	}
	return updates
}

func (s *Store) catchUp(collection, since string, emit func([]remote.Update) error) error {
	from, _ := strconv.ParseInt(since, 10, 64)
	entries, err := os.ReadDir(s.collectionDir(collection))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", collection, err)
	}

	changed := make(map[string]struct{})
	for _, e := range entries {
		id := docID(e.Name())
		if e.IsDir() || id == "" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().UnixNano() > from {
			changed[id] = struct{}{}
		}
	}
	if len(changed) == 0 {
		return nil
	}
	s.logger.Debug("Replaying offline changes", "collection", collection, "count", len(changed))
	return emit(s.resolve(collection, changed))
}
