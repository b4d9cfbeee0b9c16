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

// TypeRecipes is the worker type of a RecipeMirror.
const TypeRecipes = "recipes"

// RecipeMirror mirrors a recipe collection into the recipes and
// recipe_index tables.
type RecipeMirror struct {
	base
	cache  *cache.DB
	parser recipe.Parser
	mode   recipe.Mode
}

// RecipeOptions configures a RecipeMirror.
type RecipeOptions struct {
	Name           string
	Collection     string
	Mode           recipe.Mode
	OrderByCreated bool
	DedupSize      int
}

// NewRecipeMirror creates a recipe mirror. It does nothing until Start.
func NewRecipeMirror(opts RecipeOptions, store *storage.Store, db *cache.DB, rs remote.Store, broker *events.Broker, parser recipe.Parser) (*RecipeMirror, error) {
	if opts.Mode == "" {
		opts.Mode = recipe.ModeFull
	}
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("mirror %s: unknown mode %q: %w", opts.Name, opts.Mode, apperr.ErrInvalid)
	}

	bw, err := worker.NewBaseWorker(opts.Name, TypeRecipes, store, opts.DedupSize)
	if err != nil {
		return nil, err
	}

	q := remote.Query{Collection: opts.Collection}
	if opts.OrderByCreated {
		q.OrderBy = recipe.FieldCreatedAt
		q.Descending = true
	}

	return &RecipeMirror{
		base: base{
			BaseWorker: bw,
			remote:     rs,
			broker:     broker,
			query:      q,
			now:        time.Now,
		},
		cache:  db,
		parser: parser,
		mode:   opts.Mode,
	}, nil
}

// Start runs the sync loop until Stop.
func (m *RecipeMirror) Start() error {
	return m.run(m)
}

// Apply writes the new and modified documents of one snapshot. Documents
// without a name are logged and skipped; their siblings still land.
func (m *RecipeMirror) Apply(ctx context.Context, snap remote.Snapshot) error {
	docs := m.fresh(snap)
	if len(docs) == 0 {
		return nil
	}

	parsed := make([]recipe.Recipe, 0, len(docs))
	written := make([]remote.Document, 0, len(docs))
	var malformed []remote.Document
	for _, d := range docs {
		r, err := m.parser.ParseRecipe(d.ID, d.Fields, m.mode)
		if err != nil {
			if errors.Is(err, apperr.ErrMalformedDocument) {
				malformed = append(malformed, d)
				m.LogWarn("Skipping malformed recipe", "id", d.ID, "error", err)
				continue
			}
			return err
		}
		parsed = append(parsed, r)
		written = append(written, d)
	}
	m.skipMalformed(malformed)
	if len(parsed) == 0 {
		return nil
	}

	ids := make([]string, len(parsed))
	for i, r := range parsed {
		ids[i] = r.ID
	}
	existing, err := m.cache.GetRecipes(ctx, ids)
	if err != nil {
		return fmt.Errorf("read existing rows: %w", err)
	}

	index := make([]cache.IndexEntry, len(parsed))
	for i := range parsed {
		if old, ok := existing[parsed[i].ID]; ok {
			recipe.MergeLocal(&parsed[i], &old, m.mode)
		}
		index[i] = cache.IndexEntry{ID: parsed[i].ID, Name: parsed[i].Name}
	}

	if err := m.cache.UpsertRemoteRecipes(ctx, parsed); err != nil {
		return fmt.Errorf("write recipes: %w", err)
	}
	if err := m.cache.UpsertIndex(ctx, index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	m.markWritten(written)
	m.LogDebug("Applied recipes", "count", len(parsed), "malformed", len(malformed), "seq", snap.Seq)
	return nil
}
