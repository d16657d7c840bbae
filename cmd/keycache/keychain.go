package main

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/benaskins/keycache/internal/config"
	"github.com/benaskins/keycache/internal/credential"
	"github.com/benaskins/keycache/internal/keychain"
	"github.com/benaskins/keycache/internal/store"
	"github.com/spf13/cobra"
)

var keychainCmd = &cobra.Command{
	Use:   "keychain",
	Short: "Manage keychains",
}

var createModule string

var keychainCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Declare a keychain and create its store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loaded.AddKeychain(config.Keychain{Name: args[0], Module: createModule}); err != nil {
			return err
		}
		if err := loaded.Save(configPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		return withEnv(func(e *env) error {
			kc, err := e.keychain(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Keychain %s created\n", kc)
			return nil
		})
	},
}

var keychainListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List declared keychains",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMODULE\tDEFAULT\tSEARCH\tITEMS")
			for _, kc := range e.cfg.Keychains {
				count := "-"
				h, err := e.keychain(kc.Name)
				if err == nil {
					if items, err := h.Items(store.NewQuery(store.GenericPassword)); err == nil {
						count = fmt.Sprint(len(items))
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					kc.Name, kc.Module, mark(kc.Name == e.cfg.Default),
					mark(slices.Contains(e.cfg.SearchList, kc.Name)), count)
			}
			return w.Flush()
		})
	},
}

var keychainLockCmd = &cobra.Command{
	Use:   "lock [keychain]",
	Short: "Lock a keychain",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			kc, err := e.keychain(firstArg(args))
			if err != nil {
				return err
			}
			kc.Lock()
			fmt.Printf("Keychain %s locked\n", kc)
			return nil
		})
	},
}

var keychainUnlockCmd = &cobra.Command{
	Use:   "unlock [keychain]",
	Short: "Unlock a keychain, using its unlock referrals before prompting",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			kc, err := e.keychain(firstArg(args))
			if err != nil {
				return err
			}
			r := credential.NewResolver(e.registry)
			defer r.Clear()
			msg, err := unlock(kc, r, readSecret)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		})
	},
}

// unlock unlocks kc with a credential found through its unlock referrals, or
// with a prompted password when there is none. A resolver failure falls back
// to the prompt.
func unlock(kc *keychain.Keychain, r *credential.Resolver, prompt func(string) ([]byte, error)) (string, error) {
	ok, err := r.Resolve(kc)
	if err != nil {
		slog.With("component", "unlock").Warn("credential lookup failed, prompting for password",
			"keychain", kc.String(), "error", err)
		ok = false
	}
	if ok {
		s := r.Samples()[0]
		kc.Unlock()
		return fmt.Sprintf("Keychain %s unlocked with %s from %s", kc, s.Kind, s.Connection), nil
	}
	if _, err := prompt("Keychain password: "); err != nil {
		return "", err
	}
	kc.Unlock()
	return fmt.Sprintf("Keychain %s unlocked", kc), nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}

func init() {
	keychainCreateCmd.Flags().StringVar(&createModule, "module", "sqlite", "Store module (sqlite or memory)")
	keychainCmd.AddCommand(keychainCreateCmd)
	keychainCmd.AddCommand(keychainListCmd)
	keychainCmd.AddCommand(keychainLockCmd)
	keychainCmd.AddCommand(keychainUnlockCmd)
	rootCmd.AddCommand(keychainCmd)
}
