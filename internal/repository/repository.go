// Package repository is the read and mutation surface over the local cache.
// Reads never touch the network. Mutations are local-first; only SaveRecipe
// writes through to the remote store.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/cache"
	"github.com/imdevinc/recipe-mirror/internal/events"
	"github.com/imdevinc/recipe-mirror/internal/outbox"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
	"github.com/imdevinc/recipe-mirror/internal/remote"
	"github.com/imdevinc/recipe-mirror/internal/util"
)

// DefaultListLimit bounds the home-screen lists.
const DefaultListLimit = 20

// DefaultCollection is where SaveRecipe writes.
const DefaultCollection = "recipes"

// Repository reads from the cache and applies user mutations.
type Repository struct {
	db         *cache.DB
	broker     *events.Broker
	remote     remote.Store
	outbox     *outbox.Outbox
	userID     string
	collection string
	listLimit  int
	retry      util.RetryConfig
	now        func() time.Time
	location   *time.Location
	logger     *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithRemote enables SaveRecipe write-through. Without a remote every save
// is reported pending.
func WithRemote(rs remote.Store, box *outbox.Outbox) Option {
	return func(r *Repository) {
		r.remote = rs
		r.outbox = box
	}
}

// WithUserID sets the user used when a call passes an empty user id.
func WithUserID(id string) Option {
	return func(r *Repository) { r.userID = id }
}

// WithCollection sets the remote collection SaveRecipe writes to.
func WithCollection(name string) Option {
	return func(r *Repository) { r.collection = name }
}

// WithRetry overrides the remote write retry policy.
func WithRetry(cfg util.RetryConfig) Option {
	return func(r *Repository) { r.retry = cfg }
}

// WithLocation sets the zone remote createdAt strings are written in. It
// must match the zone the mirrors parse them in.
func WithLocation(loc *time.Location) Option {
	return func(r *Repository) {
		if loc != nil {
			r.location = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// New creates a repository. broker feeds Observe; it may be nil, in which
// case observers only get the initial list.
func New(db *cache.DB, broker *events.Broker, opts ...Option) *Repository {
	r := &Repository{
		db:         db,
		broker:     broker,
		userID:     "local",
		collection: DefaultCollection,
		listLimit:  DefaultListLimit,
		retry:      util.QuickRetryConfig(),
		now:        time.Now,
		location:   time.UTC,
		logger:     slog.Default().With("component", "repository"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) user(id string) string {
	if id == "" {
		return r.userID
	}
	return id
}

// Recipe returns one cached recipe.
func (r *Repository) Recipe(ctx context.Context, id string) (recipe.Recipe, error) {
	return r.db.GetRecipe(ctx, id)
}

// Trending returns the most liked recipes.
func (r *Repository) Trending(ctx context.Context) ([]recipe.Recipe, error) {
	return r.db.Trending(ctx, r.listLimit)
}

// Recommended returns liked recipes the configured user has not opened.
func (r *Repository) Recommended(ctx context.Context) ([]recipe.Recipe, error) {
	return r.db.Recommended(ctx, r.userID, r.listLimit)
}

// NewDishes returns the newest recipes.
func (r *Repository) NewDishes(ctx context.Context) ([]recipe.Recipe, error) {
	return r.db.NewDishes(ctx, r.listLimit)
}

// ByCategory returns every recipe of a category.
func (r *Repository) ByCategory(ctx context.Context, categoryID string) ([]recipe.Recipe, error) {
	return r.db.ByCategory(ctx, categoryID)
}

// ByAuthor returns every recipe of an author.
func (r *Repository) ByAuthor(ctx context.Context, userID string) ([]recipe.Recipe, error) {
	return r.db.ByAuthor(ctx, userID)
}

// Favorites returns the favorite recipes.
func (r *Repository) Favorites(ctx context.Context) ([]recipe.Recipe, error) {
	return r.db.Favorites(ctx)
}

// RecentlyViewed returns the user's view history, newest first.
func (r *Repository) RecentlyViewed(ctx context.Context, userID string) ([]cache.RecentView, error) {
	return r.db.RecentlyViewed(ctx, r.user(userID))
}

// Search returns every recipe whose name contains keyword.
func (r *Repository) Search(ctx context.Context, keyword string) ([]recipe.Recipe, error) {
	return r.db.Search(ctx, keyword, 0)
}

// Suggest returns name suggestions for a partial keyword.
func (r *Repository) Suggest(ctx context.Context, keyword string) ([]cache.IndexEntry, error) {
	return r.db.Suggest(ctx, keyword)
}

// Categories returns every mirrored category.
func (r *Repository) Categories(ctx context.Context) ([]recipe.Category, error) {
	return r.db.Categories(ctx)
}

// SearchHistory returns the user's recent searches.
func (r *Repository) SearchHistory(ctx context.Context, userID string) ([]cache.SearchEntry, error) {
	return r.db.SearchHistory(ctx, r.user(userID))
}

// Stats returns cache row counts.
func (r *Repository) Stats(ctx context.Context) (cache.Stats, error) {
	return r.db.Stats(ctx)
}

// ToggleFavorite sets the favorite flag. Setting the current value again is
// a no-op.
func (r *Repository) ToggleFavorite(ctx context.Context, id string, value bool) error {
	return r.db.SetFavorite(ctx, id, value)
}

// Like moves the local like count by one and returns the new value. The
// server count is not written; the next sync keeps the local value.
func (r *Repository) Like(ctx context.Context, id string, liked bool) (int, error) {
	delta := -1
	if liked {
		delta = 1
	}
	return r.db.AdjustLikes(ctx, id, delta)
}

// RecordView stamps a recipe as viewed now.
func (r *Repository) RecordView(ctx context.Context, id, userID string) error {
	return r.db.RecordView(ctx, id, r.user(userID), r.now())
}

// RemoveRecent drops a recipe from the user's view history.
func (r *Repository) RemoveRecent(ctx context.Context, recipeID, userID string) error {
	return r.db.RemoveRecentByRecipe(ctx, recipeID, r.user(userID))
}

// RemoveRecentEntry drops one history row by its id.
func (r *Repository) RemoveRecentEntry(ctx context.Context, entryID int64) error {
	return r.db.RemoveRecentByID(ctx, entryID)
}

// SaveSearch records an executed search.
func (r *Repository) SaveSearch(ctx context.Context, query, userID string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return fmt.Errorf("empty search query: %w", apperr.ErrInvalid)
	}
	return r.db.SaveSearch(ctx, query, r.user(userID), r.now())
}

// DeleteSearch removes one query from the history.
func (r *Repository) DeleteSearch(ctx context.Context, query string) error {
	return r.db.DeleteSearch(ctx, query)
}

// ClearLocalUserData resets favorites, like overrides and histories.
func (r *Repository) ClearLocalUserData(ctx context.Context) error {
	return r.db.ClearLocalUserData(ctx)
}
