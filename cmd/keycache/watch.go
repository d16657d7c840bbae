package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/benaskins/keycache/internal/events"
	"github.com/benaskins/keycache/internal/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open every keychain and drop caches when their files change on disk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(runWatch)
	},
}

func runWatch(e *env) error {
	if err := os.MkdirAll(e.cfg.Dir, 0700); err != nil {
		return fmt.Errorf("creating keychain dir: %w", err)
	}
	if _, err := e.registry.OpenAll(e.registry.Declared()); err != nil {
		return err
	}

	unsubscribe := e.bus.Subscribe(events.NotifierFunc(func(ev events.Event) {
		fmt.Printf("%s %s %s\n", ev.Timestamp.Format("15:04:05"), ev.Kind, ev.Keychain)
	}))
	defer unsubscribe()

	w, err := watch.New(e.cfg.Dir, e.registry, watch.WithOnChange(func(c watch.Change) {
		if c.Open {
			fmt.Printf("%s changed on disk (removed=%v)\n", c.Name, c.Removed)
		}
	}))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.Info("keycache watching", "dir", e.cfg.Dir, "keychains", len(e.registry.Open()))
	err = w.Run(ctx)
	slog.Info("keycache stopped", "events", len(e.history.Events()))
	return err
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
