package console

import (
	"strings"
	"sync"
	"time"
)

// SnapshotEvent announces that a scope has a fresh snapshot. It carries no
// data; subscribers read the view they care about.
type SnapshotEvent struct {
	Scope    string    `json:"scope"`
	Sequence int64     `json:"sequence"`
	At       time.Time `json:"at"`
}

type snapshotSubscriber struct {
	id    int64
	scope string
	ch    chan SnapshotEvent
}

type SnapshotBroker struct {
	mu          sync.RWMutex
	closed      bool
	nextID      int64
	sequence    int64
	bufferSize  int
	subscribers map[int64]snapshotSubscriber
}

func NewSnapshotBroker(bufferSize int) *SnapshotBroker {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &SnapshotBroker{
		bufferSize:  bufferSize,
		subscribers: make(map[int64]snapshotSubscriber),
	}
}

// Subscribe returns notifications for scope, or for every scope when scope is
// empty. The returned func unsubscribes and closes the channel.
func (b *SnapshotBroker) Subscribe(scope string) (<-chan SnapshotEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan SnapshotEvent, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	subscriber := snapshotSubscriber{
		id:    b.nextID,
		scope: strings.TrimSpace(scope),
		ch:    ch,
	}
	b.subscribers[subscriber.id] = subscriber
	return ch, func() {
		b.unsubscribe(subscriber.id)
	}
}

func (b *SnapshotBroker) Publish(scope string) int {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	b.sequence++
	event := SnapshotEvent{Scope: scope, Sequence: b.sequence, At: time.Now().UTC()}
	snapshot := make([]snapshotSubscriber, 0, len(b.subscribers))
	for _, subscriber := range b.subscribers {
		snapshot = append(snapshot, subscriber)
	}
	b.mu.Unlock()

	delivered := 0
	for _, subscriber := range snapshot {
		if subscriber.scope != "" && subscriber.scope != event.Scope {
			continue
		}
		if b.tryPublish(subscriber, event) {
			delivered++
		}
	}
	return delivered
}

func (b *SnapshotBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, subscriber := range b.subscribers {
		close(subscriber.ch)
		delete(b.subscribers, id)
	}
}

func (b *SnapshotBroker) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subscriber, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(subscriber.ch)
}

// tryPublish never blocks. A full channel loses its oldest notification.
// Sends happen under the read lock so an unsubscribe cannot close the
// channel mid-send.
func (b *SnapshotBroker) tryPublish(subscriber snapshotSubscriber, event SnapshotEvent) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.subscribers[subscriber.id]; !ok {
		return false
	}
	select {
	case subscriber.ch <- event:
		return true
	default:
		select {
		case <-subscriber.ch:
		default:
		}
		select {
		case subscriber.ch <- event:
			return true
		default:
			return false
		}
	}
}
