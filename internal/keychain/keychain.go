// Package keychain owns the in-memory view of one keychain: the identity
// cache that keeps at most one Item per persisted record, the schema cache of
// its store and the batch-mode buffer of change notifications.
//
// # Locking
//
// Each Keychain has one mutex guarding its item map, its schema cache pointer,
// its batch flag and buffer, and every Item's cache-membership flag. The
// mutex is never held across store I/O or while posting events. Because of
// that, a Notifier may call back into the keychain that posted the event:
// Lookup, Item, Add, Update, Delete and SetBatchMode are all safe to call
// from inside Notifier.Post.
package keychain

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benaskins/keycache/internal/events"
	"github.com/benaskins/keycache/internal/schema"
	"github.com/benaskins/keycache/internal/store"
	"golang.org/x/time/rate"
)

var (
	// ErrDuplicateItem is returned when a record is already registered for a
	// primary key, or when an add would duplicate a stored record.
	ErrDuplicateItem = errors.New("duplicate item")
	// ErrInvalidItemRef is returned for items that do not belong to the
	// keychain or no longer exist.
	ErrInvalidItemRef = errors.New("invalid item reference")
	// ErrInternal is returned when the cache contradicts itself: a key was
	// reported as registered but cannot be found.
	ErrInternal = errors.New("internal item cache inconsistency")
	// ErrClosed is returned by operations on a closed keychain.
	ErrClosed = errors.New("keychain closed")
)

// ID identifies a keychain by database name, store module and subservice.
type ID struct {
	Name       string
	Module     string
	Subservice uint32
}

func (id ID) String() string {
	if id.Subservice == 0 {
		return id.Module + ":" + id.Name
	}
	return fmt.Sprintf("%s:%s/%d", id.Module, id.Name, id.Subservice)
}

// Registry is the part of the process-wide keychain registry a keychain
// depends on.
type Registry interface {
	// ConstructionLock is held while a new Item is created for a key that is
	// not cached yet. It is released before the item is loaded from the store.
	ConstructionLock() sync.Locker
	// RemoveKeychain forgets kc when it is closed.
	RemoveKeychain(id ID, kc *Keychain)
}

type pendingEvent struct {
	kind events.Kind
	item *Item // pinned until the buffer is flushed
	// key is posted when item is nil: events about records that have no
	// cached item, and keychain-wide events with a zero key.
	key store.PrimaryKey
}

// Keychain is the handle of one open keychain.
type Keychain struct {
	id       ID
	store    store.Store
	notifier events.Notifier
	registry Registry
	logger   *slog.Logger
	raceLog  *rate.Sometimes

	mu       sync.Mutex
	items    map[store.PrimaryKey]*Item
	schema   *schema.Cache
	batching bool
	pending  []pendingEvent
	locked   bool
	closed   bool
}

// Option configures a keychain.
type Option func(*Keychain)

// WithNotifier sets where change events are posted.
func WithNotifier(n events.Notifier) Option {
	return func(k *Keychain) {
		k.notifier = n
	}
}

// WithRegistry connects the keychain to the registry that opened it.
func WithRegistry(r Registry) Option {
	return func(k *Keychain) {
		k.registry = r
	}
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Keychain) {
		k.logger = l
	}
}

// New wraps an open store.
func New(id ID, s store.Store, opts ...Option) *Keychain {
	k := &Keychain{
		id:       id,
		store:    s,
		notifier: events.Discard,
		items:    make(map[store.PrimaryKey]*Item),
		raceLog:  &rate.Sometimes{First: 1, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		k.logger = slog.With("component", "keychain", "keychain", id.String())
	}
	return k
}

func (k *Keychain) ID() ID             { return k.id }
func (k *Keychain) Name() string       { return k.id.Name }
func (k *Keychain) Store() store.Store { return k.store }
func (k *Keychain) String() string     { return k.id.String() }

// Schema returns the schema cache, building it from the store on first use or
// after InvalidateSchema. The build runs without holding the keychain mutex.
func (k *Keychain) Schema() (*schema.Cache, error) {
	k.mu.Lock()
	c := k.schema
	k.mu.Unlock()
	if c != nil {
		return c, nil
	}

	built, err := schema.Build(k.store)
	if err != nil {
		return nil, fmt.Errorf("build schema of %s: %w", k.id, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.schema == nil {
		k.schema = built
	}
	return k.schema, nil
}

// InvalidateSchema discards the schema cache; the next query rebuilds it.
func (k *Keychain) InvalidateSchema() {
	k.mu.Lock()
	k.schema = nil
	k.mu.Unlock()
}

// CreateRelation adds a relation to the store and to the schema cache.
func (k *Keychain) CreateRelation(info store.RelationInfo) error {
	if err := k.store.CreateRelation(info); err != nil {
		return fmt.Errorf("create relation %s in %s: %w", info.Type, k.id, err)
	}
	k.mu.Lock()
	c := k.schema
	k.mu.Unlock()
	if c != nil {
		c.RecordCreated(info.Type, info.Attributes, info.Indexes)
	}
	return nil
}

// PrimaryKeyFor computes the primary key a record of type rt with attrs has
// in this keychain.
func (k *Keychain) PrimaryKeyFor(rt store.RecordType, attrs store.Attributes) (store.PrimaryKey, error) {
	ids, err := k.primaryKeyIDs(rt)
	if err != nil {
		return store.PrimaryKey{}, err
	}
	return store.MakePrimaryKey(rt, attrs, ids), nil
}

// primaryKeyIDs asks the schema cache, rebuilding it once on a miss.
func (k *Keychain) primaryKeyIDs(rt store.RecordType) ([]store.AttrID, error) {
	var ids []store.AttrID
	err := schema.Retry(k, func(c *schema.Cache) error {
		var err error
		ids, err = c.PrimaryKeyIDs(rt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("primary key of %s in %s: %w", rt, k.id, err)
	}
	return ids, nil
}

// HasRecordType reports whether the keychain's schema cache knows rt. A
// negative answer does not rebuild the cache; relations created behind the
// keychain's back become visible after InvalidateSchema or a retried miss.
func (k *Keychain) HasRecordType(rt store.RecordType) (bool, error) {
	c, err := k.Schema()
	if err != nil {
		return false, err
	}
	return c.HasRecordType(rt), nil
}

// IsLocked reports the lock state.
func (k *Keychain) IsLocked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.locked
}

// Lock marks the keychain locked and posts a lock event.
func (k *Keychain) Lock() {
	k.mu.Lock()
	k.locked = true
	k.mu.Unlock()
	k.notify(events.KindLock, nil)
}

// Unlock marks the keychain unlocked and posts an unlock event.
func (k *Keychain) Unlock() {
	k.mu.Lock()
	k.locked = false
	k.mu.Unlock()
	k.notify(events.KindUnlock, nil)
}

// Close drops every cached item, closes the store and removes the keychain
// from its registry.
func (k *Keychain) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.purgeLocked()
	k.schema = nil
	k.pending = nil
	k.mu.Unlock()

	if k.registry != nil {
		k.registry.RemoveKeychain(k.id, k)
	}
	if err := k.store.Close(); err != nil {
		return fmt.Errorf("close %s: %w", k.id, err)
	}
	return nil
}

func (k *Keychain) checkOpen() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("%w: %s", ErrClosed, k.id)
	}
	return nil
}
