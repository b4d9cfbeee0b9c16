// Package remote defines the contract of the remote document store the
// mirrors read from and the repository writes to.
package remote

import (
	"context"
)

// Document is a schemaless remote document.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// ChangeKind classifies a document change relative to a query.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one document entering, changing inside, or leaving a query.
type Change struct {
	Kind ChangeKind
	Doc  Document
}

// Snapshot is the full current state of a query plus the changes that
// produced it. The first snapshot of a subscription lists every document as
// Added.
type Snapshot struct {
	Docs    []Document
	Changes []Change
	Seq     string
}

// Store is a remote document store.
type Store interface {
	// Get returns a document or an error wrapping apperr.ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	// Set merges fields into the document, creating it if needed.
	Set(ctx context.Context, collection, id string, fields map[string]any) error
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
	Close() error
}

// Update is a raw backend change. Fields is nil when Deleted is set.
type Update struct {
	Seq     string
	ID      string
	Deleted bool
	Fields  map[string]any
}

// Feed is what a backend implements to power subscriptions.
type Feed interface {
	// Initial lists every document of the collection and the sequence to
	// watch from.
	Initial(ctx context.Context, collection string) ([]Document, string, error)
	// Watch blocks delivering updates after since until ctx ends (returning
	// nil) or the feed fails. Returning an error from emit stops the watch.
	Watch(ctx context.Context, collection, since string, emit func([]Update) error) error
}
