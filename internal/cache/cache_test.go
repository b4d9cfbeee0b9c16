package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/events"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
)

func testDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cache-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	db, err := Open(f.Name(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func sample(id, name string, likes int, createdOffset time.Duration) recipe.Recipe {
	return recipe.Recipe{
		ID:          id,
		Name:        name,
		Difficulty:  recipe.Easy.Display(),
		People:      2,
		Ingredients: []string{"water"},
		Steps:       []string{"boil"},
		CategoryID:  "soup",
		CreatedAt:   base.Add(createdOffset),
		LikeCount:   likes,
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"recipes", "recipe_index", "categories", "search_history", "recent_viewed"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestInsertAndGetRecipe(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	r := sample("r1", "Phở", 0, 0)
	if err := db.InsertRecipe(ctx, r); err != nil {
		t.Fatalf("InsertRecipe: %v", err)
	}

	got, err := db.GetRecipe(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRecipe: %v", err)
	}
	if got.Name != "Phở" || got.Difficulty != "Dễ" || got.People != 2 {
		t.Errorf("Unexpected recipe: %+v", got)
	}
	if got.CreatedAt.UnixMilli() != base.UnixMilli() {
		t.Errorf("createdAt = %d, want %d", got.CreatedAt.UnixMilli(), base.UnixMilli())
	}
	if len(got.Ingredients) != 1 || got.Ingredients[0] != "water" {
		t.Errorf("Unexpected ingredients %#v", got.Ingredients)
	}
	if got.IsFavorite || got.LikeOverride != nil || got.LastViewed != nil {
		t.Errorf("Expected default user-local fields, got %+v", got)
	}

	if _, err := db.GetRecipe(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUnparseableListColumnDecodesEmpty(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.InsertRecipe(ctx, sample("r1", "Phở", 0, 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := db.conn.Exec(`UPDATE recipes SET ingredients = 'not json', steps = '' WHERE id = 'r1'`); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetRecipe(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRecipe: %v", err)
	}
	if got.Ingredients == nil || len(got.Ingredients) != 0 || len(got.Steps) != 0 {
		t.Errorf("Expected empty lists, got %#v / %#v", got.Ingredients, got.Steps)
	}
}

func TestRemoteUpsertPreservesUserColumns(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.InsertRecipe(ctx, sample("r1", "Phở", 5, 0)); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFavorite(ctx, "r1", true); err != nil {
		t.Fatal(err)
	}

	// A remote row that was merged before the toggle landed
	stale := sample("r1", "Phở bò", 7, 0)
	if err := db.UpsertRemoteRecipes(ctx, []recipe.Recipe{stale}); err != nil {
		t.Fatalf("UpsertRemoteRecipes: %v", err)
	}

	got, _ := db.GetRecipe(ctx, "r1")
	if !got.IsFavorite {
		t.Error("Remote upsert cleared the favorite flag")
	}
	if got.Name != "Phở bò" || got.LikeCount != 7 {
		t.Errorf("Remote fields not applied: %+v", got)
	}
}

func TestGetRecipesChunks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var batch []recipe.Recipe
	var ids []string
	for i := 0; i < maxParams+20; i++ {
		id := fmt.Sprintf("r%04d", i)
		batch = append(batch, sample(id, "Dish "+id, i, time.Duration(i)*time.Minute))
		ids = append(ids, id)
	}
	if err := db.UpsertRemoteRecipes(ctx, batch); err != nil {
		t.Fatalf("UpsertRemoteRecipes: %v", err)
	}

	got, err := db.GetRecipes(ctx, append(ids, "nope"))
	if err != nil {
		t.Fatalf("GetRecipes: %v", err)
	}
	if len(got) != len(batch) {
		t.Errorf("Expected %d rows, got %d", len(batch), len(got))
	}
	if _, ok := got["nope"]; ok {
		t.Error("Missing id should be absent")
	}
}

func TestListQueries(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := sample("a", "Phở", 10, 0)
	b := sample("b", "Bún chả", 30, time.Hour)
	c := sample("c", "Cơm tấm", 20, 2*time.Hour)
	c.CategoryID = "rice"
	if err := db.UpsertRemoteRecipes(ctx, []recipe.Recipe{a, b, c}); err != nil {
		t.Fatal(err)
	}

	ids := func(rs []recipe.Recipe) string {
		s := ""
		for _, r := range rs {
			s += r.ID
		}
		return s
	}

	trending, err := db.Trending(ctx, 10)
	if err != nil || ids(trending) != "bca" {
		t.Errorf("Trending = %s (%v), want bca", ids(trending), err)
	}

	newest, err := db.NewDishes(ctx, 2)
	if err != nil || ids(newest) != "cb" {
		t.Errorf("NewDishes = %s (%v), want cb", ids(newest), err)
	}

	soup, err := db.ByCategory(ctx, "soup")
	if err != nil || ids(soup) != "ba" {
		t.Errorf("ByCategory = %s (%v), want ba", ids(soup), err)
	}

	// Local like override reorders trending
	if _, err := db.AdjustLikes(ctx, "a", 100); err != nil {
		t.Fatal(err)
	}
	trending, _ = db.Trending(ctx, 10)
	if ids(trending) != "abc" {
		t.Errorf("Trending after override = %s, want abc", ids(trending))
	}

	// Viewed recipes drop out of that user's recommendations only
	if err := db.RecordView(ctx, "a", "u1", base); err != nil {
		t.Fatal(err)
	}
	rec, err := db.Recommended(ctx, "u1", 10)
	if err != nil || ids(rec) != "bc" {
		t.Errorf("Recommended(u1) = %s (%v), want bc", ids(rec), err)
	}
	rec, err = db.Recommended(ctx, "u2", 10)
	if err != nil || ids(rec) != "abc" {
		t.Errorf("Recommended(u2) = %s (%v), want abc", ids(rec), err)
	}
	if err := db.RemoveRecentByRecipe(ctx, "a", "u1"); err != nil {
		t.Fatal(err)
	}
	rec, _ = db.Recommended(ctx, "u1", 10)
	if ids(rec) != "abc" {
		t.Errorf("Recommended after removing view = %s, want abc", ids(rec))
	}

	if err := db.SetFavorite(ctx, "c", true); err != nil {
		t.Fatal(err)
	}
	favs, err := db.Favorites(ctx)
	if err != nil || ids(favs) != "c" {
		t.Errorf("Favorites = %s (%v), want c", ids(favs), err)
	}
}

func TestSetFavoriteIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if err := db.InsertRecipe(ctx, sample("r1", "Phở", 0, 0)); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := db.SetFavorite(ctx, "r1", true); err != nil {
			t.Fatalf("SetFavorite #%d: %v", i+1, err)
		}
	}
	got, _ := db.GetRecipe(ctx, "r1")
	if !got.IsFavorite {
		t.Error("Expected favorite")
	}

	if err := db.SetFavorite(ctx, "missing", true); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAdjustLikesFloorsAtZero(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if err := db.InsertRecipe(ctx, sample("r1", "Phở", 1, 0)); err != nil {
		t.Fatal(err)
	}

	n, err := db.AdjustLikes(ctx, "r1", 1)
	if err != nil || n != 2 {
		t.Fatalf("AdjustLikes(+1) = %d, %v; want 2", n, err)
	}
	n, _ = db.AdjustLikes(ctx, "r1", -5)
	if n != 0 {
		t.Errorf("Expected floor at 0, got %d", n)
	}
}

func TestSearchCaseInsensitiveSubstring(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	batch := []recipe.Recipe{
		sample("a", "Phở Bò", 0, 0),
		sample("b", "PHỞ GÀ", 0, 0),
		sample("c", "Bún chả", 0, 0),
		sample("d", "100% juice", 0, 0),
	}
	if err := db.UpsertRemoteRecipes(ctx, batch); err != nil {
		t.Fatal(err)
	}

	got, err := db.Search(ctx, "phở", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 matches for phở, got %d", len(got))
	}

	got, _ = db.Search(ctx, "%", 0)
	if len(got) != 1 || got[0].ID != "d" {
		t.Errorf("Expected literal %% match on d, got %+v", got)
	}

	got, _ = db.Search(ctx, "   ", 0)
	if len(got) != 0 {
		t.Errorf("Blank keyword should match nothing, got %d", len(got))
	}

	got, _ = db.Search(ctx, "ph", 1)
	if len(got) != 1 {
		t.Errorf("Expected limit 1, got %d", len(got))
	}
}

func TestSuggestCapped(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var entries []IndexEntry
	for i := 0; i < 15; i++ {
		entries = append(entries, IndexEntry{ID: fmt.Sprintf("r%d", i), Name: fmt.Sprintf("Canh %d", i)})
	}
	if err := db.UpsertIndex(ctx, entries); err != nil {
		t.Fatalf("UpsertIndex: %v", err)
	}

	got, err := db.Suggest(ctx, "CANH")
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) != SuggestLimit {
		t.Errorf("Expected %d suggestions, got %d", SuggestLimit, len(got))
	}
}

func TestRecentlyViewedCapAndOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("r%02d", i)
		if err := db.InsertRecipe(ctx, sample(id, "Dish", 0, 0)); err != nil {
			t.Fatal(err)
		}
		if err := db.RecordView(ctx, id, "u1", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	// A second view replaces the first rather than duplicating
	if err := db.RecordView(ctx, "r00", "u1", base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	views, err := db.RecentlyViewed(ctx, "u1")
	if err != nil {
		t.Fatalf("RecentlyViewed: %v", err)
	}
	if len(views) != RecentlyViewedLimit {
		t.Fatalf("Expected %d views, got %d", RecentlyViewedLimit, len(views))
	}
	if views[0].Recipe.ID != "r00" {
		t.Errorf("Expected refreshed r00 first, got %s", views[0].Recipe.ID)
	}
	for i := 1; i < len(views); i++ {
		if views[i].ViewedAt.After(views[i-1].ViewedAt) {
			t.Fatalf("Views not ordered by timestamp desc at %d", i)
		}
	}

	// Read-time cap only: all 25 rows remain in storage
	var stored int
	db.conn.QueryRow(`SELECT count(*) FROM recent_viewed`).Scan(&stored)
	if stored != 25 {
		t.Errorf("Expected 25 stored rows, got %d", stored)
	}

	other, _ := db.RecentlyViewed(ctx, "u2")
	if len(other) != 0 {
		t.Errorf("Expected no views for u2, got %d", len(other))
	}
}

func TestRecentRetentionPrunesOnWrite(t *testing.T) {
	db := testDB(t, WithRecentRetention(3))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("r%d", i)
		_ = db.InsertRecipe(ctx, sample(id, "Dish", 0, 0))
		if err := db.RecordView(ctx, id, "u1", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	_ = db.RecordView(ctx, "r0", "u2", base)

	var stored int
	db.conn.QueryRow(`SELECT count(*) FROM recent_viewed WHERE user_id = 'u1'`).Scan(&stored)
	if stored != 3 {
		t.Errorf("Expected 3 retained rows for u1, got %d", stored)
	}
	db.conn.QueryRow(`SELECT count(*) FROM recent_viewed WHERE user_id = 'u2'`).Scan(&stored)
	if stored != 1 {
		t.Errorf("Pruning u1 must not touch u2, got %d rows", stored)
	}
}

func TestRemoveRecent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.InsertRecipe(ctx, sample("a", "A", 0, 0))
	_ = db.InsertRecipe(ctx, sample("b", "B", 0, 0))
	_ = db.RecordView(ctx, "a", "u1", base)
	_ = db.RecordView(ctx, "b", "u1", base.Add(time.Second))

	if err := db.RemoveRecentByRecipe(ctx, "a", "u1"); err != nil {
		t.Fatalf("RemoveRecentByRecipe: %v", err)
	}
	views, _ := db.RecentlyViewed(ctx, "u1")
	if len(views) != 1 || views[0].Recipe.ID != "b" {
		t.Fatalf("Unexpected views %+v", views)
	}

	if err := db.RemoveRecentByID(ctx, views[0].EntryID); err != nil {
		t.Fatalf("RemoveRecentByID: %v", err)
	}
	if err := db.RemoveRecentByID(ctx, views[0].EntryID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second removal, got %v", err)
	}
}

func TestSearchHistoryReplaceAndCap(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if err := db.SaveSearch(ctx, fmt.Sprintf("q%d", i), "u1", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.SaveSearch(ctx, "q0", "u1", base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	history, err := db.SearchHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("SearchHistory: %v", err)
	}
	if len(history) != SearchHistoryLimit {
		t.Fatalf("Expected %d entries, got %d", SearchHistoryLimit, len(history))
	}
	if history[0].Query != "q0" {
		t.Errorf("Expected re-saved q0 first, got %s", history[0].Query)
	}

	var rows int
	db.conn.QueryRow(`SELECT count(*) FROM search_history WHERE query = 'q0'`).Scan(&rows)
	if rows != 1 {
		t.Errorf("Expected a single q0 row, got %d", rows)
	}

	if err := db.SaveSearch(ctx, "  ", "u1", base); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Expected ErrInvalid for blank query, got %v", err)
	}

	if err := db.DeleteSearch(ctx, "q0"); err != nil {
		t.Fatal(err)
	}
	history, _ = db.SearchHistory(ctx, "u1")
	if history[0].Query == "q0" {
		t.Error("Expected q0 to be deleted")
	}
}

func TestClearLocalUserData(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.InsertRecipe(ctx, sample("r1", "Phở", 3, 0))
	_ = db.SetFavorite(ctx, "r1", true)
	_, _ = db.AdjustLikes(ctx, "r1", 1)
	_ = db.RecordView(ctx, "r1", "u1", base)
	_ = db.SaveSearch(ctx, "phở", "u1", base)

	if err := db.ClearLocalUserData(ctx); err != nil {
		t.Fatalf("ClearLocalUserData: %v", err)
	}

	got, err := db.GetRecipe(ctx, "r1")
	if err != nil {
		t.Fatalf("Recipe row should survive: %v", err)
	}
	if got.IsFavorite || got.LikeOverride != nil || got.LastViewed != nil || got.Likes() != 3 {
		t.Errorf("User-local fields not reset: %+v", got)
	}

	stats, _ := db.Stats(ctx)
	if stats.RecentViews != 0 || stats.SearchQueries != 0 || stats.Recipes != 1 {
		t.Errorf("Unexpected stats after clear: %+v", stats)
	}

	if err := db.Purge(ctx); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	stats, _ = db.Stats(ctx)
	if stats.Recipes != 0 {
		t.Errorf("Expected empty cache after purge, got %+v", stats)
	}
}

func TestWritesPublishEvents(t *testing.T) {
	broker := events.NewBroker()
	defer broker.Close()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	db := testDB(t, WithBroker(broker))
	ctx := context.Background()

	if err := db.InsertRecipe(ctx, sample("r1", "Phở", 0, 0)); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sub:
		if ev.Table != events.TableRecipes || len(ev.IDs) != 1 || ev.IDs[0] != "r1" {
			t.Errorf("Unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("No event after write")
	}

	// Failed writes publish nothing
	_ = db.SetFavorite(ctx, "missing", true)
	select {
	case ev := <-sub:
		t.Errorf("Unexpected event after failed write: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
