package main

import (
	"fmt"

	"github.com/benaskins/keycache/internal/system"
	"github.com/spf13/cobra"
)

var importService string

var importSystemCmd = &cobra.Command{
	Use:   "import-system [keychain]",
	Short: "Copy generic passwords of a service from the macOS keychain",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			kc, err := e.keychain(firstArg(args))
			if err != nil {
				return err
			}
			res, err := system.Import(kc, importService)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d item(s) into %s, %d already present\n", res.Imported, kc, res.Skipped)
			return nil
		})
	},
}

func init() {
	importSystemCmd.Flags().StringVar(&importService, "service", "", "Service attribute of the passwords to import")
	importSystemCmd.MarkFlagRequired("service")
	rootCmd.AddCommand(importSystemCmd)
}
