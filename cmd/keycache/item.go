package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/benaskins/keycache/internal/keychain"
	"github.com/benaskins/keycache/internal/store"
	"github.com/benaskins/keycache/internal/system"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	itemKeychain string
	itemAccount  string
	itemService  string
	itemLabel    string
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage generic password items",
}

var itemAddCmd = &cobra.Command{
	Use:   "add [value]",
	Short: "Add a password item",
	Long:  "Add a password item. If value is omitted, reads from stdin (useful for piping).",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value []byte
		if len(args) == 1 {
			value = []byte(args[0])
		} else {
			v, err := readSecret("Enter password: ")
			if err != nil {
				return err
			}
			value = v
		}

		return withEnv(func(e *env) error {
			kc, err := e.keychain(itemKeychain)
			if err != nil {
				return err
			}
			attrs := itemAttrs()
			if itemLabel != "" {
				attrs[store.AttrLabel] = []byte(itemLabel)
			}
			if err := kc.Add(keychain.NewItem(store.GenericPassword, attrs, value)); err != nil {
				return err
			}
			fmt.Printf("Item %s/%s added to %s\n", itemService, itemAccount, kc)
			return nil
		})
	},
}

var itemGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the password of an item",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			it, err := findItem(e)
			if err != nil {
				return err
			}
			data, err := it.Keychain().ReadData(it)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		})
	},
}

var itemListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List password items, searching every keychain of the search list",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			var kcs []*keychain.Keychain
			if itemKeychain != "" {
				kc, err := e.keychain(itemKeychain)
				if err != nil {
					return err
				}
				kcs = []*keychain.Keychain{kc}
			} else {
				kcs = e.registry.SearchList()
			}

			q := store.NewQuery(store.GenericPassword)
			if itemService != "" {
				q = q.Where(store.AttrService, []byte(itemService))
			}
			if itemAccount != "" {
				q = q.Where(store.AttrAccount, []byte(itemAccount))
			}

			cur := keychain.NewSearchCursor(kcs, q)
			defer cur.Close()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEYCHAIN\tSERVICE\tACCOUNT\tLABEL")
			for {
				it, ok, err := cur.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				a := it.Attributes()
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.Keychain().Name(),
					a.String(store.AttrService), a.String(store.AttrAccount), a.String(store.AttrLabel))
			}
			return w.Flush()
		})
	},
}

var itemDeleteCmd = &cobra.Command{
	Use:     "delete",
	Short:   "Delete a password item",
	Aliases: []string{"rm"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			it, err := findItem(e)
			if err != nil {
				return err
			}
			kc := it.Keychain()
			if err := kc.Delete(it); err != nil {
				return err
			}
			fmt.Printf("Item %s/%s deleted from %s\n", itemService, itemAccount, kc)
			return nil
		})
	},
}

var itemExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Copy a password item to the system keychain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			it, err := findItem(e)
			if err != nil {
				return err
			}
			if err := system.Export(it); err != nil {
				return err
			}
			fmt.Printf("Item %s/%s exported\n", itemService, itemAccount)
			return nil
		})
	},
}

func itemAttrs() store.Attributes {
	return store.Attributes{
		store.AttrAccount: []byte(itemAccount),
		store.AttrService: []byte(itemService),
	}
}

// findItem looks the item named by the flags up by primary key.
func findItem(e *env) (*keychain.Item, error) {
	kc, err := e.keychain(itemKeychain)
	if err != nil {
		return nil, err
	}
	key, err := kc.PrimaryKeyFor(store.GenericPassword, itemAttrs())
	if err != nil {
		return nil, err
	}
	it, err := kc.Item(key)
	if errors.Is(err, keychain.ErrInvalidItemRef) {
		return nil, fmt.Errorf("no item %s/%s in %s", itemService, itemAccount, kc)
	}
	return it, err
}

// readSecret prompts on a terminal, or reads stdin when it is piped.
func readSecret(prompt string) ([]byte, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		fmt.Println()
		return b, nil
	}
	b, err := os.ReadFile("/dev/stdin")
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return []byte(strings.TrimRight(string(b), "\n")), nil
}

func init() {
	itemCmd.PersistentFlags().StringVarP(&itemKeychain, "keychain", "k", "", "Keychain name (default keychain if empty)")
	itemCmd.PersistentFlags().StringVarP(&itemAccount, "account", "a", "", "Account")
	itemCmd.PersistentFlags().StringVarP(&itemService, "service", "s", "", "Service")
	itemAddCmd.Flags().StringVarP(&itemLabel, "label", "l", "", "Label")

	itemCmd.AddCommand(itemAddCmd)
	itemCmd.AddCommand(itemGetCmd)
	itemCmd.AddCommand(itemListCmd)
	itemCmd.AddCommand(itemDeleteCmd)
	itemCmd.AddCommand(itemExportCmd)
	rootCmd.AddCommand(itemCmd)
}
