package main

import (
	"errors"
	"fmt"

	"github.com/benaskins/keycache/internal/config"
	"github.com/benaskins/keycache/internal/events"
	"github.com/benaskins/keycache/internal/keychain"
	"github.com/benaskins/keycache/internal/registry"
)

// loaded is the config read by the root command.
var loaded *config.Config

// env is the state every command works on: the registry built from the
// config and the event bus its keychains post to.
type env struct {
	cfg      *config.Config
	registry *registry.Registry
	bus      *events.Bus
	history  *events.History
	journal  *events.Journal
}

func openEnv() (*env, error) {
	cfg := loaded
	e := &env{
		cfg:     cfg,
		bus:     events.NewBus(),
		history: events.NewHistory(cfg.History),
	}
	e.registry = registry.New(cfg.Dir, registry.WithNotifier(e.bus))

	for _, kc := range cfg.Keychains {
		e.registry.Declare(keychainID(kc))
	}
	var list []keychain.ID
	for _, name := range cfg.SearchList {
		kc, _ := cfg.Keychain(name)
		list = append(list, keychainID(kc))
	}
	e.registry.SetSearchList(list)
	if cfg.Default != "" {
		kc, _ := cfg.Keychain(cfg.Default)
		e.registry.SetDefault(keychainID(kc))
	}

	// Subscribed after the config is applied so startup is not journaled.
	e.bus.Subscribe(e.history)
	if cfg.Journal != "" {
		j, err := events.OpenJournal(cfg.Journal)
		if err != nil {
			return nil, err
		}
		e.journal = j
		e.bus.Subscribe(j)
	}
	return e, nil
}

func keychainID(kc config.Keychain) keychain.ID {
	return keychain.ID{Name: kc.Name, Module: kc.Module, Subservice: kc.Subservice}
}

// keychain opens the keychain called name, or the default keychain when name
// is empty.
func (e *env) keychain(name string) (*keychain.Keychain, error) {
	if name == "" {
		return e.registry.DefaultKeychain()
	}
	id, err := e.registry.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w (declare it with 'keycache keychain create')", err)
	}
	return e.registry.Keychain(id)
}

func (e *env) Close() error {
	err := e.registry.Close()
	if e.journal != nil {
		err = errors.Join(err, e.journal.Close())
	}
	return err
}

// withEnv runs fn with an open env and closes it afterwards.
func withEnv(fn func(e *env) error) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}
