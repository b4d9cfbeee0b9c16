// Package events fans out local cache changes to observers.
package events

import (
	"sync/atomic"
)

// Event types.
const (
	TypeTableChanged = "table.changed"
	TypeSyncComplete = "sync.complete"
)

// Tables that publish changes.
const (
	TableRecipes       = "recipes"
	TableRecipeIndex   = "recipe_index"
	TableCategories    = "categories"
	TableSearchHistory = "search_history"
	TableRecentViewed  = "recent_viewed"
)

// Event describes one committed change.
type Event struct {
	Type  string   `json:"type"`
	Table string   `json:"table,omitempty"`
	IDs   []string `json:"ids,omitempty"`
}

// Broker manages subscribers and broadcasts events.
//
// A single goroutine owns the subscriber set. Public methods talk to it over
// channels, so no mutex is needed. A subscriber whose buffer is full misses
// the event rather than stalling the loop.
type Broker struct {
	subscribeCh   chan chan Event
	unsubscribeCh chan chan Event
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker loop.
func NewBroker() *Broker {
	b := &Broker{
		subscribeCh:   make(chan chan Event),
		unsubscribeCh: make(chan chan Event),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan Event]struct{})

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			for ch := range clients {
				select {
				case ch <- event:
				default:
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a new subscriber. The channel is closed on
// Unsubscribe or Close.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(ch chan Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of subscribers.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish broadcasts an event. It is safe to call on a nil broker.
func (b *Broker) Publish(event Event) {
	if b == nil || b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishTable is shorthand for a table-changed event.
func (b *Broker) PublishTable(table string, ids ...string) {
	b.Publish(Event{Type: TypeTableChanged, Table: table, IDs: ids})
}
