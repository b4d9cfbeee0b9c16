// Package couchstore implements remote.Store on CouchDB, one database per
// collection.
package couchstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/remote"
	"github.com/imdevinc/recipe-mirror/pkg/couchdb"
)

// Config holds connection settings shared by every collection database.
type Config struct {
	URL      string
	Username string
	Password string
	// DBPrefix is prepended to collection names, e.g. "prod_" gives "prod_recipes".
	DBPrefix string
	// CreateDatabases creates missing collection databases on first use.
	CreateDatabases bool
	Timeout         time.Duration
	Heartbeat       time.Duration
	// MergeAttempts bounds revision-conflict retries in Set.
	MergeAttempts int
}

// Store is a CouchDB-backed remote.Store.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*couchdb.Client
}

var (
	_ remote.Store = (*Store)(nil)
	_ remote.Feed  = (*Store)(nil)
)

// New returns a store. Connections are opened lazily per collection.
func New(cfg Config, logger *slog.Logger) *Store {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.MergeAttempts == 0 {
		cfg.MergeAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:     cfg,
		logger:  logger.With("remote", "couchdb"),
		clients: make(map[string]*couchdb.Client),
	}
}

// DBName maps a collection to its database name.
func (s *Store) DBName(collection string) string {
	return s.cfg.DBPrefix + collection
}

func (s *Store) client(ctx context.Context, collection string) (*couchdb.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[collection]; ok {
		return c, nil
	}

	c, err := couchdb.NewClient(ctx, couchdb.Config{
		URL:             s.cfg.URL,
		Username:        s.cfg.Username,
		Password:        s.cfg.Password,
		Database:        s.DBName(collection),
		Timeout:         s.cfg.Timeout,
		CreateIfMissing: s.cfg.CreateDatabases,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w: %w", collection, apperr.ErrRemoteUnavailable, err)
	}
	s.clients[collection] = c
	return c, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	c, err := s.client(ctx, collection)
	if err != nil {
		return remote.Document{}, err
	}
	doc, err := c.Get(ctx, id)
	if err != nil {
		if couchdb.IsNotFound(err) {
			return remote.Document{}, fmt.Errorf("%s/%s: %w", collection, id, apperr.ErrNotFound)
		}
		return remote.Document{}, err
	}
	return toDocument(doc), nil
}

func (s *Store) Query(ctx context.Context, q remote.Query) ([]remote.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	c, err := s.client(ctx, q.Collection)
	if err != nil {
		return nil, err
	}

	fq := couchdb.FindQuery{Selector: Selector(q.Filters), Limit: q.Limit}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		fq.Sort = []map[string]string{{q.OrderBy: dir}}
	}

	docs, err := c.Find(ctx, fq)
	if err != nil && q.OrderBy != "" {
		// Sorting needs an index; fall back to sorting locally.
		s.logger.Debug("Mango sort failed, sorting in memory", "collection", q.Collection, "error", err)
		fq.Sort, fq.Limit = nil, 0
		docs, err = c.Find(ctx, fq)
	}
	if err != nil {
		return nil, err
	}

	out := make([]remote.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocument(d))
	}
	return q.Apply(out), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	c, err := s.client(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := c.Merge(ctx, id, fields, s.cfg.MergeAttempts); err != nil {
		if couchdb.IsConflict(err) {
			return fmt.Errorf("%s/%s: %w: %w", collection, id, apperr.ErrConflict, err)
		}
		return err
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, q remote.Query) (*remote.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return remote.NewSubscription(ctx, s, q, remote.WithLogger(s.logger)), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, c := range s.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
		delete(s.clients, name)
	}
	return firstErr
}

// Initial reads the update sequence before listing so no change between the
// two calls is lost; replayed changes are idempotent.
func (s *Store) Initial(ctx context.Context, collection string) ([]remote.Document, string, error) {
	c, err := s.client(ctx, collection)
	if err != nil {
		return nil, "", err
	}
	seq, err := c.UpdateSeq(ctx)
	if err != nil {
		return nil, "", err
	}
	docs, err := c.AllDocs(ctx)
	if err != nil {
		return nil, "", err
	}

	out := make([]remote.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocument(d))
	}
	return out, seq, nil
}

func (s *Store) Watch(ctx context.Context, collection, since string, emit func([]remote.Update) error) error {
	c, err := s.client(ctx, collection)
	if err != nil {
		return err
	}

	s.logger.Info("Starting changes feed", "collection", collection, "since", since)
	changes, errs := c.Changes(ctx, couchdb.ChangesOptions{
		Since:       since,
		IncludeDocs: true,
		Continuous:  true,
		Heartbeat:   s.cfg.Heartbeat,
	})

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				if err := <-errs; err != nil {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("changes feed for %s closed", collection)
			}
			u := remote.Update{Seq: change.Seq, ID: change.ID, Deleted: change.Deleted}
			if !u.Deleted {
				if change.Doc == nil {
					continue
				}
				u.Fields = change.Doc.Fields
			}
			if isDesignDoc(u.ID) {
				continue
			}
			if err := emit([]remote.Update{u}); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func toDocument(d *couchdb.Document) remote.Document {
	return remote.Document{ID: d.ID, Fields: d.Fields}
}

func isDesignDoc(id string) bool {
	return strings.HasPrefix(id, "_design/")
}
