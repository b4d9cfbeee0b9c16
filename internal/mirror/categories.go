package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/cache"
	"github.com/imdevinc/recipe-mirror/internal/events"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
	"github.com/imdevinc/recipe-mirror/internal/remote"
	"github.com/imdevinc/recipe-mirror/internal/storage"
	"github.com/imdevinc/recipe-mirror/internal/worker"
)

// TypeCategories is the worker type of a CategoryMirror.
const TypeCategories = "categories"

// CategoryMirror mirrors the categories collection.
type CategoryMirror struct {
	base
	cache  *cache.DB
	parser recipe.Parser
}

// NewCategoryMirror creates a category mirror.
func NewCategoryMirror(name, collection string, store *storage.Store, db *cache.DB, rs remote.Store, broker *events.Broker, parser recipe.Parser) (*CategoryMirror, error) {
	bw, err := worker.NewBaseWorker(name, TypeCategories, store, 0)
	if err != nil {
		return nil, err
	}
	return &CategoryMirror{
		base: base{
			BaseWorker: bw,
			remote:     rs,
			broker:     broker,
			query:      remote.Query{Collection: collection},
			now:        time.Now,
		},
		cache:  db,
		parser: parser,
	}, nil
}

// Start runs the sync loop until Stop.
func (m *CategoryMirror) Start() error {
	return m.run(m)
}

// Apply writes the new and modified categories of one snapshot.
func (m *CategoryMirror) Apply(ctx context.Context, snap remote.Snapshot) error {
	docs := m.fresh(snap)
	if len(docs) == 0 {
		return nil
	}

	batch := make([]recipe.Category, 0, len(docs))
	written := make([]remote.Document, 0, len(docs))
	var malformed []remote.Document
	for _, d := range docs {
		c, err := m.parser.ParseCategory(d.ID, d.Fields)
		if err != nil {
			if errors.Is(err, apperr.ErrMalformedDocument) {
				malformed = append(malformed, d)
				m.LogWarn("Skipping malformed category", "id", d.ID, "error", err)
				continue
			}
			return err
		}
		batch = append(batch, c)
		written = append(written, d)
	}
	m.skipMalformed(malformed)
	if len(batch) == 0 {
		return nil
	}

	if err := m.cache.UpsertCategories(ctx, batch); err != nil {
		return fmt.Errorf("write categories: %w", err)
	}
	m.markWritten(written)
	return nil
}
