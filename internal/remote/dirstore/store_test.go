package dirstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/remote"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, nil, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func TestSetAndGet(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "recipes", "r1", map[string]any{"name": "Phở", "people": 2}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "recipes", "r1", map[string]any{"people": 3}); err != nil {
		t.Fatalf("Set merge: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "recipes", "r1.json")); err != nil {
		t.Fatalf("Expected document file: %v", err)
	}

	doc, err := s.Get(ctx, "recipes", "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Fields["name"] != "Phở" || doc.Fields["people"] != float64(3) {
		t.Errorf("Unexpected fields %v", doc.Fields)
	}

	if _, err := s.Get(ctx, "recipes", "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRejectsPathIDs(t *testing.T) {
	s, _ := newTestStore(t)
	for _, id := range []string{"", "../escape", "a/b", ".hidden"} {
		if err := s.Set(context.Background(), "recipes", id, map[string]any{}); !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("Set(%q): expected ErrInvalid, got %v", id, err)
		}
	}
}

func TestQuerySkipsMalformedFiles(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	s.Set(ctx, "recipes", "a", map[string]any{"categoryId": "soup"})
	s.Set(ctx, "recipes", "b", map[string]any{"categoryId": "rice"})
	os.WriteFile(filepath.Join(dir, "recipes", "bad.json"), []byte("{not json"), 0644)
	os.WriteFile(filepath.Join(dir, "recipes", "notes.txt"), []byte("ignore"), 0644)

	docs, err := s.Query(ctx, remote.Query{Collection: "recipes"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("Expected 2 docs, got %d", len(docs))
	}

	if _, err := s.Get(ctx, "recipes", "bad"); !errors.Is(err, apperr.ErrMalformedDocument) {
		t.Errorf("Expected ErrMalformedDocument, got %v", err)
	}

	docs, _ = s.Query(ctx, remote.Query{Collection: "missing"})
	if len(docs) != 0 {
		t.Errorf("Expected empty result for missing collection, got %d", len(docs))
	}
}

func waitSnapshot(t *testing.T, sub *remote.Subscription) remote.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		if !ok {
			t.Fatal("Snapshots channel closed")
		}
		return snap
	case <-time.After(3 * time.Second):
		t.Fatal("Timeout waiting for snapshot")
	}
	return remote.Snapshot{}
}

func TestSubscribeSeesFileWrittenAfterStart(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()
	s.Set(ctx, "recipes", "r1", map[string]any{"name": "Phở"})

	sub, err := s.Subscribe(ctx, remote.Query{Collection: "recipes"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	first := waitSnapshot(t, sub)
	if len(first.Docs) != 1 {
		t.Fatalf("Expected 1 doc initially, got %d", len(first.Docs))
	}

	// Written by another process
	if err := os.WriteFile(filepath.Join(dir, "recipes", "r2.json"), []byte(`{"name":"Bún chả"}`), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-sub.Snapshots():
			for _, c := range snap.Changes {
				if c.Doc.ID == "r2" && c.Kind == remote.Added {
					if len(snap.Docs) != 2 {
						t.Errorf("Expected 2 docs, got %d", len(snap.Docs))
					}
					return
				}
			}
		case <-deadline:
			t.Fatal("r2 never delivered")
		}
	}
}

func TestSubscribeSeesDeletion(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()
	s.Set(ctx, "recipes", "r1", map[string]any{"name": "Phở"})

	sub, _ := s.Subscribe(ctx, remote.Query{Collection: "recipes"})
	defer sub.Close()
	waitSnapshot(t, sub)

	os.Remove(filepath.Join(dir, "recipes", "r1.json"))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-sub.Snapshots():
			if len(snap.Changes) > 0 && snap.Changes[0].Kind == remote.Removed {
				if len(snap.Docs) != 0 {
					t.Errorf("Expected empty state, got %d docs", len(snap.Docs))
				}
				return
			}
		case <-deadline:
			t.Fatal("Deletion never delivered")
		}
	}
}
