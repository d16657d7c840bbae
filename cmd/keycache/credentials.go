package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/benaskins/keycache/internal/credential"
	"github.com/spf13/cobra"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials <keychain>",
	Short: "Show the keys that can unlock a keychain without a password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			kc, err := e.keychain(args[0])
			if err != nil {
				return err
			}
			r := credential.NewResolver(e.registry)
			ok, err := r.Resolve(kc)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("No automatic credentials for %s; unlock will prompt\n", kc)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tKEYCHAIN\tKEY")
			for _, s := range r.Samples() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Kind, s.Connection, s.Key)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
}
