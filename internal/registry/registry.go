// Package registry keeps the process-wide set of open keychains, the search
// list, the default keychain and the lock serializing construction of new
// cache items.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/benaskins/keycache/internal/events"
	"github.com/benaskins/keycache/internal/keychain"
	"github.com/benaskins/keycache/internal/store"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoSuchKeychain is returned when no keychain with the given name is
	// declared or no default is set.
	ErrNoSuchKeychain = errors.New("no such keychain")
	// ErrUnknownModule is returned for keychains whose store module has no
	// opener.
	ErrUnknownModule = errors.New("unknown store module")
)

// Store modules with a built-in opener.
const (
	ModuleSQLite = "sqlite"
	ModuleMemory = "memory"
)

// Opener opens, or creates, the store of a keychain. A store created by the
// opener must already hold the standard relations.
type Opener func(id keychain.ID) (store.Store, error)

// Registry owns every open keychain.
type Registry struct {
	dir      string
	notifier events.Notifier
	logger   *slog.Logger
	openers  map[string]Opener

	construct sync.Mutex

	mu         sync.Mutex
	keychains  map[keychain.ID]*keychain.Keychain
	declared   []keychain.ID
	searchList []keychain.ID
	defaultID  keychain.ID
	hasDefault bool
}

// Option configures a registry.
type Option func(*Registry)

// WithNotifier sets where keychains post their events.
func WithNotifier(n events.Notifier) Option {
	return func(r *Registry) {
		r.notifier = n
	}
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithOpener registers an opener for a store module, replacing a built-in
// one.
func WithOpener(module string, o Opener) Option {
	return func(r *Registry) {
		r.openers[module] = o
	}
}

// New creates a registry whose sqlite keychains live in dir.
func New(dir string, opts ...Option) *Registry {
	r := &Registry{
		dir:       dir,
		notifier:  events.Discard,
		logger:    slog.With("component", "registry"),
		keychains: make(map[keychain.ID]*keychain.Keychain),
	}
	r.openers = map[string]Opener{
		ModuleSQLite: r.openSQLite,
		ModuleMemory: openMemory,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the directory holding sqlite keychains.
func (r *Registry) Dir() string { return r.dir }

// Path returns the file a sqlite keychain is stored in.
func (r *Registry) Path(name string) string {
	return filepath.Join(r.dir, name+".db")
}

func (r *Registry) openSQLite(id keychain.ID) (store.Store, error) {
	if err := os.MkdirAll(r.dir, 0700); err != nil {
		return nil, fmt.Errorf("create keychain dir: %w", err)
	}
	path := r.Path(id.Name)
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	s, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if fresh {
		if err := s.Create(store.StandardRelations()); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func openMemory(id keychain.ID) (store.Store, error) {
	s := store.NewMemoryStore(id.Name)
	if err := s.Create(store.StandardRelations()); err != nil {
		return nil, err
	}
	return s, nil
}

// Declare makes ids known by name. Keychains are opened lazily.
func (r *Registry) Declare(ids ...keychain.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if !slices.Contains(r.declared, id) {
			r.declared = append(r.declared, id)
		}
	}
}

// Declared returns every declared keychain identifier in declaration order.
func (r *Registry) Declared() []keychain.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.declared)
}

// Lookup returns the identifier declared under name.
func (r *Registry) Lookup(name string) (keychain.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.declared {
		if id.Name == name {
			return id, nil
		}
	}
	return keychain.ID{}, fmt.Errorf("%w: %s", ErrNoSuchKeychain, name)
}

// Keychain returns the open keychain for id, opening its store on first use.
func (r *Registry) Keychain(id keychain.ID) (*keychain.Keychain, error) {
	r.mu.Lock()
	if kc, ok := r.keychains[id]; ok {
		r.mu.Unlock()
		return kc, nil
	}
	open, ok := r.openers[id.Module]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q for %s", ErrUnknownModule, id.Module, id.Name)
	}

	s, err := open(id)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	kc := keychain.New(id, s,
		keychain.WithNotifier(r.notifier),
		keychain.WithRegistry(r),
	)

	r.mu.Lock()
	if existing, ok := r.keychains[id]; ok {
		r.mu.Unlock()
		s.Close()
		return existing, nil
	}
	r.keychains[id] = kc
	if !slices.Contains(r.declared, id) {
		r.declared = append(r.declared, id)
	}
	r.mu.Unlock()

	r.logger.Debug("keychain opened", "keychain", id.String())
	return kc, nil
}

// OpenAll opens the keychains for ids concurrently. The result is in the
// order of ids.
func (r *Registry) OpenAll(ids []keychain.ID) ([]*keychain.Keychain, error) {
	out := make([]*keychain.Keychain, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			kc, err := r.Keychain(id)
			if err != nil {
				return err
			}
			out[i] = kc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Open reports the identifiers of the keychains currently open.
func (r *Registry) Open() []keychain.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []keychain.ID
	for _, id := range r.declared {
		if _, ok := r.keychains[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsOpen reports whether id is open without opening it.
func (r *Registry) IsOpen(id keychain.ID) (*keychain.Keychain, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kc, ok := r.keychains[id]
	return kc, ok
}

// SearchListIDs returns the search list.
func (r *Registry) SearchListIDs() []keychain.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.searchList)
}

// SearchList opens and returns the keychains of the search list. Keychains
// that fail to open are logged and left out.
func (r *Registry) SearchList() []*keychain.Keychain {
	var out []*keychain.Keychain
	for _, id := range r.SearchListIDs() {
		kc, err := r.Keychain(id)
		if err != nil {
			r.logger.Warn("search list keychain unavailable", "keychain", id.String(), "error", err)
			continue
		}
		out = append(out, kc)
	}
	return out
}

// SetSearchList replaces the search list and posts a keychain-list-changed
// event.
func (r *Registry) SetSearchList(ids []keychain.ID) {
	r.mu.Lock()
	r.searchList = slices.Clone(ids)
	for _, id := range ids {
		if !slices.Contains(r.declared, id) {
			r.declared = append(r.declared, id)
		}
	}
	r.mu.Unlock()
	r.notifier.Post(events.Event{Kind: events.KindKeychainListChanged})
}

// DefaultKeychain opens and returns the default keychain.
func (r *Registry) DefaultKeychain() (*keychain.Keychain, error) {
	r.mu.Lock()
	id, ok := r.defaultID, r.hasDefault
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no default keychain", ErrNoSuchKeychain)
	}
	return r.Keychain(id)
}

// SetDefault makes id the default keychain and posts a default-changed event.
func (r *Registry) SetDefault(id keychain.ID) {
	r.mu.Lock()
	r.defaultID, r.hasDefault = id, true
	if !slices.Contains(r.declared, id) {
		r.declared = append(r.declared, id)
	}
	r.mu.Unlock()
	r.notifier.Post(events.Event{Kind: events.KindDefaultChanged, Keychain: id.String()})
}

// ConstructionLock implements keychain.Registry.
func (r *Registry) ConstructionLock() sync.Locker {
	return &r.construct
}

// RemoveKeychain implements keychain.Registry. It forgets kc only if it is
// still the keychain registered for id.
func (r *Registry) RemoveKeychain(id keychain.ID, kc *keychain.Keychain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.keychains[id]; ok && cur == kc {
		delete(r.keychains, id)
		r.logger.Debug("keychain removed", "keychain", id.String())
	}
}

// Close closes every open keychain.
func (r *Registry) Close() error {
	r.mu.Lock()
	open := make([]*keychain.Keychain, 0, len(r.keychains))
	for _, kc := range r.keychains {
		open = append(open, kc)
	}
	r.mu.Unlock()

	var errs []error
	for _, kc := range open {
		if err := kc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
