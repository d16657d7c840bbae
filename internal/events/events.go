// Package events carries keychain change notifications.
//
// Keychains post events to a Notifier. A Bus fans events out to subscribers
// such as the on-disk Journal and the in-memory History.
package events

import (
	"sync"
	"time"

	"github.com/benaskins/keycache/internal/store"
)

// Kind describes what happened.
type Kind string

const (
	KindLock                Kind = "lock"
	KindUnlock              Kind = "unlock"
	KindAdd                 Kind = "add"
	KindDelete              Kind = "delete"
	KindUpdate              Kind = "update"
	KindPasswordChanged     Kind = "password_changed"
	KindDataAccess          Kind = "data_access"
	KindDefaultChanged      Kind = "default_changed"
	KindKeychainListChanged Kind = "keychain_list_changed"
	KindEnterBatch          Kind = "enter_batch"
	KindLeaveBatch          Kind = "leave_batch"
)

// Event is a single change notification.
type Event struct {
	Timestamp time.Time
	Kind      Kind
	Keychain  string
	// Key is the primary key of the item concerned; zero for keychain-wide
	// events.
	Key store.PrimaryKey
}

// Notifier receives posted events.
type Notifier interface {
	Post(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Post(e Event) { f(e) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})

// Bus delivers each posted event synchronously to every subscriber, in
// subscription order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs []subscription
}

type subscription struct {
	id int
	n  Notifier
}

// NewBus creates a bus with the given initial subscribers.
func NewBus(subs ...Notifier) *Bus {
	b := &Bus{}
	for _, n := range subs {
		b.Subscribe(n)
	}
	return b
}

// Subscribe adds n and returns a function that removes it again.
func (b *Bus) Subscribe(n Notifier) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs = append(b.subs, subscription{id: id, n: n})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Post stamps e if needed and delivers it.
func (b *Bus) Post(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	subs := make([]Notifier, len(b.subs))
	for i, s := range b.subs {
		subs[i] = s.n
	}
	b.mu.RUnlock()

	for _, n := range subs {
		n.Post(e)
	}
}
