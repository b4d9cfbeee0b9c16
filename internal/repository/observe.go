package repository

import (
	"context"
	"fmt"
	"slices"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/events"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
)

// View names an observable recipe list.
type View struct {
	Name string
	// Arg is the category or author id for ViewCategory and ViewAuthor.
	Arg string
}

// View names.
const (
	ViewTrending    = "trending"
	ViewRecommended = "recommended"
	ViewNew         = "new"
	ViewFavorites   = "favorites"
	ViewRecent      = "recent"
	ViewCategory    = "category"
	ViewAuthor      = "author"
)

// ParseView validates a view name and its argument.
func ParseView(name, arg string) (View, error) {
	switch name {
	case ViewTrending, ViewRecommended, ViewNew, ViewFavorites, ViewRecent:
		return View{Name: name, Arg: arg}, nil
	case ViewCategory, ViewAuthor:
		if arg == "" {
			return View{}, fmt.Errorf("view %s needs an id: %w", name, apperr.ErrInvalid)
		}
		return View{Name: name, Arg: arg}, nil
	}
	return View{}, fmt.Errorf("unknown view %q: %w", name, apperr.ErrInvalid)
}

// tables lists what a view reads.
func (v View) tables() []string {
	switch v.Name {
	case ViewRecommended, ViewRecent:
		return []string{events.TableRecipes, events.TableRecentViewed}
	}
	return []string{events.TableRecipes}
}

// List returns the current contents of a view. For ViewRecent Arg is the
// user id.
func (r *Repository) List(ctx context.Context, v View) ([]recipe.Recipe, error) {
	switch v.Name {
	case ViewTrending:
		return r.Trending(ctx)
	case ViewRecommended:
		return r.Recommended(ctx)
	case ViewNew:
		return r.NewDishes(ctx)
	case ViewFavorites:
		return r.Favorites(ctx)
	case ViewCategory:
		return r.ByCategory(ctx, v.Arg)
	case ViewAuthor:
		return r.ByAuthor(ctx, v.Arg)
	case ViewRecent:
		views, err := r.RecentlyViewed(ctx, v.Arg)
		if err != nil {
			return nil, err
		}
		out := make([]recipe.Recipe, len(views))
		for i, rv := range views {
			out[i] = rv.Recipe
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown view %q: %w", v.Name, apperr.ErrInvalid)
}

// Observe emits the full list of v now and again after every committed
// change to a table v reads. The channel closes when ctx ends. Changes that
// arrive while a list is being delivered collapse into one re-read.
func (r *Repository) Observe(ctx context.Context, v View) <-chan []recipe.Recipe {
	out := make(chan []recipe.Recipe)
	var changes chan events.Event
	if r.broker != nil {
		changes = r.broker.Subscribe()
	}
	dirty := watchTables(ctx, changes, v.tables())

	go func() {
		defer close(out)
		if changes != nil {
			defer r.broker.Unsubscribe(changes)
		}

		for {
			list, err := r.List(ctx, v)
			if err != nil {
				r.logger.Warn("Observe query failed", "view", v.Name, "error", err)
			} else {
				select {
				case out <- list:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case _, ok := <-dirty:
				if !ok {
					return
				}
			}
		}
	}()

	return out
}

// watchTables keeps ch drained so the broker never finds it full, and
// raises a one-slot dirty flag for events on tables. The flag channel
// closes when ch closes. A nil ch yields a nil flag channel.
func watchTables(ctx context.Context, ch <-chan events.Event, tables []string) <-chan struct{} {
	if ch == nil {
		return nil
	}
	dirty := make(chan struct{}, 1)
	go func() {
		defer close(dirty)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Type != events.TypeTableChanged || !slices.Contains(tables, ev.Table) {
					continue
				}
				select {
				case dirty <- struct{}{}:
				default:
				}
			}
		}
	}()
	return dirty
}
