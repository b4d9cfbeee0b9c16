package remote

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/imdevinc/recipe-mirror/internal/util"
)

// Subscription is a long-lived live query. It keeps the query's current
// state in memory and delivers a full Snapshot on every change, in order.
// Feed failures are logged and retried from the last sequence with capped
// exponential backoff until Close.
type Subscription struct {
	feed    Feed
	query   Query
	logger  *slog.Logger
	backoff util.RetryConfig

	snapshots chan Snapshot
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// owned by run
	state  map[string]Document
	seq    string
	loaded bool
}

// SubscriptionOption configures a Subscription.
type SubscriptionOption func(*Subscription)

// WithLogger sets the logger used for feed errors.
func WithLogger(l *slog.Logger) SubscriptionOption {
	return func(s *Subscription) {
		s.logger = l
	}
}

// WithBackoff overrides the reconnect backoff.
func WithBackoff(cfg util.RetryConfig) SubscriptionOption {
	return func(s *Subscription) {
		s.backoff = cfg
	}
}

// NewSubscription starts watching q on feed. Backends call it from their
// Subscribe method.
func NewSubscription(ctx context.Context, feed Feed, q Query, opts ...SubscriptionOption) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		feed:      feed,
		query:     q,
		logger:    slog.Default(),
		backoff:   util.ReconnectConfig(),
		snapshots: make(chan Snapshot),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     make(map[string]Document),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("collection", q.Collection)

	go s.run(ctx)
	return s
}

// Snapshots returns the delivery channel. It is closed after Close or when
// the parent context ends.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.snapshots
}

// Close stops the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.done
	return nil
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.snapshots)

	attempt := 0
	for {
		if attempt > 0 {
			wait := util.CalculateBackoff(attempt-1, s.backoff)
			s.logger.Info("Reconnecting subscription", "attempt", attempt, "wait", wait, "since", s.seq)
			if util.Sleep(ctx, wait) != nil {
				return
			}
		}

		progressed, err := s.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if progressed {
			attempt = 0
		}
		attempt++
		if err != nil {
			s.logger.Warn("Subscription feed failed", "error", err, "since", s.seq)
		} else {
			s.logger.Info("Subscription feed closed", "since", s.seq)
		}
	}
}

// listen loads the initial state if needed, then watches. progressed
// reports whether anything was delivered.
func (s *Subscription) listen(ctx context.Context) (progressed bool, err error) {
	if !s.loaded {
		docs, seq, err := s.feed.Initial(ctx, s.query.Collection)
		if err != nil {
			return false, err
		}
		changes := make([]Change, 0, len(docs))
		for _, d := range docs {
			if !s.query.Matches(d) {
				continue
			}
			s.state[d.ID] = d
			changes = append(changes, Change{Kind: Added, Doc: d})
		}
		s.seq = seq
		s.loaded = true
		if err := s.deliver(ctx, changes); err != nil {
			return true, err
		}
		progressed = true
	}

	err = s.feed.Watch(ctx, s.query.Collection, s.seq, func(updates []Update) error {
		changes := s.apply(updates)
		if len(updates) > 0 {
			s.seq = updates[len(updates)-1].Seq
		}
		if len(changes) == 0 {
			return nil
		}
		progressed = true
		return s.deliver(ctx, changes)
	})
	return progressed, err
}

func (s *Subscription) apply(updates []Update) []Change {
	var changes []Change
	for _, u := range updates {
		doc := Document{ID: u.ID, Fields: u.Fields}
		old, had := s.state[u.ID]

		if u.Deleted || !s.query.Matches(doc) {
			if had {
				delete(s.state, u.ID)
				changes = append(changes, Change{Kind: Removed, Doc: old})
			}
			continue
		}

		s.state[u.ID] = doc
		kind := Added
		if had {
			kind = Modified
		}
		changes = append(changes, Change{Kind: kind, Doc: doc})
	}
	return changes
}

func (s *Subscription) deliver(ctx context.Context, changes []Change) error {
	snap := Snapshot{
		Docs:    s.query.Apply(slices.Collect(maps.Values(s.state))),
		Changes: changes,
		Seq:     s.seq,
	}
	select {
	case s.snapshots <- snap:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
