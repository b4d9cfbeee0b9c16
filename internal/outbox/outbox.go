// Package outbox queues remote writes that failed so they can be retried
// in the background. Entries are kept in the outbox bucket of the state
// store and drained in insertion order.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imdevinc/recipe-mirror/internal/remote"
	"github.com/imdevinc/recipe-mirror/internal/storage"
)

// DefaultMaxAttempts is used when New gets a non-positive limit.
const DefaultMaxAttempts = 10

// Entry is one pending merge-write.
type Entry struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	DocID      string         `json:"docId"`
	Fields     map[string]any `json:"fields"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"lastError,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	// Parked entries exceeded the attempt limit; they are kept for
	// inspection but no longer retried.
	Parked bool `json:"parked,omitempty"`

	key string
}

// Outbox is a FIFO of pending remote writes.
type Outbox struct {
	bucket      *storage.Bucket
	remote      remote.Store
	maxAttempts int
	now         func() time.Time

	// serializes drains so an entry is never sent twice concurrently
	mu sync.Mutex
}

// New returns an outbox over the store's outbox bucket.
func New(store *storage.Store, rs remote.Store, maxAttempts int) *Outbox {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Outbox{
		bucket:      store.Bucket(storage.OutboxBucket),
		remote:      rs,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Enqueue appends a write. cause is recorded as the first failure.
func (o *Outbox) Enqueue(collection, docID string, fields map[string]any, cause error) (Entry, error) {
	seq, err := o.bucket.NextSequence()
	if err != nil {
		return Entry{}, fmt.Errorf("outbox: sequence: %w", err)
	}

	e := Entry{
		ID:         uuid.NewString(),
		Collection: collection,
		DocID:      docID,
		Fields:     fields,
		CreatedAt:  o.now().UTC(),
		key:        fmt.Sprintf("%020d", seq),
	}
	if cause != nil {
		e.Attempts = 1
		e.LastError = cause.Error()
	}
	if err := o.save(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (o *Outbox) save(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("outbox: encode %s: %w", e.ID, err)
	}
	if err := o.bucket.Set(e.key, string(data)); err != nil {
		return fmt.Errorf("outbox: save %s: %w", e.ID, err)
	}
	return nil
}

// List returns every entry, oldest first, parked ones included.
func (o *Outbox) List() ([]Entry, error) {
	var out []Entry
	err := o.bucket.IteratePrefix("", func(key, value string) error {
		var e Entry
		if err := json.Unmarshal([]byte(value), &e); err != nil {
			return fmt.Errorf("outbox: decode %s: %w", key, err)
		}
		e.key = key
		out = append(out, e)
		return nil
	})
	return out, err
}

// Counts returns the number of retryable and parked entries.
func (o *Outbox) Counts() (pending, parked int, err error) {
	entries, err := o.List()
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		if e.Parked {
			parked++
		} else {
			pending++
		}
	}
	return pending, parked, nil
}

// Drain sends pending entries in order. It stops at the first failure so
// writes to the same document keep their order; the failed entry's attempt
// count grows and it is parked once it reaches the limit.
func (o *Outbox) Drain(ctx context.Context) (sent int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.List()
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		if e.Parked {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		if setErr := o.remote.Set(ctx, e.Collection, e.DocID, e.Fields); setErr != nil {
			e.Attempts++
			e.LastError = setErr.Error()
			e.Parked = e.Attempts >= o.maxAttempts
			if err := o.save(e); err != nil {
				return sent, err
			}
			if e.Parked {
				// A parked entry no longer holds back the queue
				continue
			}
			return sent, fmt.Errorf("outbox: send %s/%s: %w", e.Collection, e.DocID, setErr)
		}

		if err := o.bucket.Delete(e.key); err != nil {
			return sent, fmt.Errorf("outbox: remove %s: %w", e.ID, err)
		}
		sent++
	}
	return sent, nil
}

// Clear drops every entry.
func (o *Outbox) Clear() error {
	return o.bucket.Clear()
}
