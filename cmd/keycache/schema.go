package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/benaskins/keycache/internal/store"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect keychain schemas",
}

var schemaShowCmd = &cobra.Command{
	Use:   "show [keychain]",
	Short: "Print the relations, attributes and primary keys of a keychain",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			kc, err := e.keychain(firstArg(args))
			if err != nil {
				return err
			}
			c, err := kc.Schema()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tATTRIBUTE\tFORMAT\tKEY")
			for _, rt := range c.RecordTypes() {
				ids, err := c.AttributeIDs(rt)
				if err != nil {
					return err
				}
				pk, err := c.PrimaryKeyIDs(rt)
				if err != nil {
					return err
				}
				for _, id := range ids {
					f, err := c.AttributeFormat(rt, id)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rt, quote(id), f, mark(slices.Contains(pk, id)))
				}
			}
			return w.Flush()
		})
	},
}

func quote(id store.AttrID) string {
	return "'" + strings.TrimRight(string(id), " ") + "'"
}

func init() {
	schemaCmd.AddCommand(schemaShowCmd)
	rootCmd.AddCommand(schemaCmd)
}
