package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/cache"
	"github.com/imdevinc/recipe-mirror/internal/events"
	"github.com/imdevinc/recipe-mirror/internal/outbox"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
	"github.com/imdevinc/recipe-mirror/internal/remote/remotetest"
	"github.com/imdevinc/recipe-mirror/internal/storage"
	"github.com/imdevinc/recipe-mirror/internal/util"
)

var fastRetry = util.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}

type fixture struct {
	repo   *Repository
	broker *events.Broker
	db     *cache.DB
	remote *remotetest.Store
	outbox *outbox.Outbox
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	broker := events.NewBroker()
	t.Cleanup(broker.Close)

	db, err := cache.Open(filepath.Join(dir, "cache.db"), cache.WithBroker(broker))
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewStore(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		broker: broker,
		db:     db,
		remote: remotetest.New(),
		clock:  time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	f.outbox = outbox.New(store, f.remote, 3)
	f.repo = New(db, broker,
		WithRemote(f.remote, f.outbox),
		WithRetry(fastRetry),
		WithClock(func() time.Time {
			f.clock = f.clock.Add(time.Second)
			return f.clock
		}),
	)
	return f
}

func (f *fixture) seed(t *testing.T, ids ...string) {
	t.Helper()
	batch := make([]recipe.Recipe, len(ids))
	for i, id := range ids {
		batch[i] = recipe.Recipe{
			ID:          id,
			Name:        "Recipe " + id,
			Difficulty:  recipe.Medium.Display(),
			People:      1,
			Ingredients: []string{},
			Steps:       []string{},
			CreatedAt:   time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		}
	}
	if err := f.db.UpsertRemoteRecipes(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestToggleFavoriteIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.repo.ToggleFavorite(ctx, "r1", true); err != nil {
			t.Fatalf("ToggleFavorite: %v", err)
		}
	}
	favs, _ := f.repo.Favorites(ctx)
	if len(favs) != 1 {
		t.Errorf("Expected 1 favorite, got %d", len(favs))
	}

	if err := f.repo.ToggleFavorite(ctx, "missing", true); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLikeAdjustsOverride(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1")
	ctx := context.Background()

	n, err := f.repo.Like(ctx, "r1", true)
	if err != nil || n != 1 {
		t.Fatalf("Like = %d, %v; want 1", n, err)
	}
	n, _ = f.repo.Like(ctx, "r1", false)
	n, _ = f.repo.Like(ctx, "r1", false)
	if n != 0 {
		t.Errorf("Likes went below zero: %d", n)
	}
}

func TestRecentlyViewedCappedAndOrdered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := make([]string, 25)
	for i := range ids {
		ids[i] = fmt.Sprintf("r%02d", i)
	}
	f.seed(t, ids...)
	for _, id := range ids {
		if err := f.repo.RecordView(ctx, id, ""); err != nil {
			t.Fatalf("RecordView: %v", err)
		}
	}

	recent, err := f.repo.RecentlyViewed(ctx, "")
	if err != nil {
		t.Fatalf("RecentlyViewed: %v", err)
	}
	if len(recent) != cache.RecentlyViewedLimit {
		t.Fatalf("Expected %d rows, got %d", cache.RecentlyViewedLimit, len(recent))
	}
	if recent[0].Recipe.ID != "r24" {
		t.Errorf("Newest view = %s, want r24", recent[0].Recipe.ID)
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].ViewedAt.After(recent[i-1].ViewedAt) {
			t.Errorf("Rows not ordered by timestamp at %d", i)
		}
	}

	if err := f.repo.RemoveRecent(ctx, "r24", ""); err != nil {
		t.Fatalf("RemoveRecent: %v", err)
	}
	recent, _ = f.repo.RecentlyViewed(ctx, "")
	if recent[0].Recipe.ID != "r23" {
		t.Errorf("Newest view after removal = %s, want r23", recent[0].Recipe.ID)
	}
}

func TestSearchHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if err := f.repo.SaveSearch(ctx, fmt.Sprintf("q%d", i), ""); err != nil {
			t.Fatalf("SaveSearch: %v", err)
		}
	}
	// Re-saving moves the query to the top
	f.repo.SaveSearch(ctx, "q0", "")

	history, err := f.repo.SearchHistory(ctx, "")
	if err != nil {
		t.Fatalf("SearchHistory: %v", err)
	}
	if len(history) != cache.SearchHistoryLimit {
		t.Fatalf("Expected %d entries, got %d", cache.SearchHistoryLimit, len(history))
	}
	if history[0].Query != "q0" {
		t.Errorf("Newest query = %s, want q0", history[0].Query)
	}

	if err := f.repo.SaveSearch(ctx, "   ", ""); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Blank query err = %v, want ErrInvalid", err)
	}
}

func TestParseView(t *testing.T) {
	tests := []struct {
		name, arg string
		wantErr   bool
	}{
		{ViewTrending, "", false},
		{ViewRecent, "", false},
		{ViewCategory, "soup", false},
		{ViewCategory, "", true},
		{ViewAuthor, "", true},
		{"popular", "", true},
	}
	for _, tt := range tests {
		_, err := ParseView(tt.name, tt.arg)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseView(%q, %q) err = %v, wantErr %v", tt.name, tt.arg, err, tt.wantErr)
		}
	}
}

func TestObserveReemitsAfterMutation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", "r2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := f.repo.Observe(ctx, View{Name: ViewFavorites})
	if got := receive(t, stream); len(got) != 0 {
		t.Fatalf("Initial favorites = %d, want 0", len(got))
	}

	if err := f.repo.ToggleFavorite(context.Background(), "r2", true); err != nil {
		t.Fatalf("ToggleFavorite: %v", err)
	}
	got := receive(t, stream)
	if len(got) != 1 || got[0].ID != "r2" {
		t.Errorf("Favorites after toggle = %v", got)
	}

	cancel()
	select {
	case _, ok := <-stream:
		if ok {
			// One in-flight list may still arrive
			if _, ok := <-stream; ok {
				t.Error("Stream not closed after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Error("Stream not closed after cancel")
	}
}

func TestObserveIgnoresUnrelatedTables(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := f.repo.Observe(ctx, View{Name: ViewTrending})
	receive(t, stream)

	f.repo.SaveSearch(context.Background(), "phở", "")
	select {
	case got := <-stream:
		t.Errorf("Unexpected emission %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestObserveSurvivesUnrelatedEventFlood(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", "r2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := f.repo.Observe(ctx, View{Name: ViewFavorites})
	receive(t, stream)

	// The observer blocks delivering this list while the flood arrives
	if err := f.repo.ToggleFavorite(context.Background(), "r1", true); err != nil {
		t.Fatalf("ToggleFavorite: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 200; i++ {
		f.broker.PublishTable(events.TableSearchHistory)
	}
	if err := f.repo.ToggleFavorite(context.Background(), "r2", true); err != nil {
		t.Fatalf("ToggleFavorite: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case got, ok := <-stream:
			if !ok {
				t.Fatal("Stream closed")
			}
			if len(got) == 2 {
				return
			}
		case <-deadline:
			t.Fatal("Second favorite never observed")
		}
	}
}

func receive(t *testing.T, ch <-chan []recipe.Recipe) []recipe.Recipe {
	t.Helper()
	select {
	case list, ok := <-ch:
		if !ok {
			t.Fatal("Stream closed")
		}
		return list
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for list")
	}
	return nil
}
