package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/benaskins/keycache/internal/events"
	"github.com/spf13/cobra"
)

var eventsTail int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the latest entries of the event journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loaded.Journal == "" {
			return errors.New("no journal configured (set journal in the config file)")
		}
		entries, err := events.ReadJournal(loaded.Journal, eventsTail)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tKIND\tKEYCHAIN\tKEY")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Kind, e.Keychain, e.Key)
		}
		return w.Flush()
	},
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsTail, "tail", "n", 20, "Number of entries (0 for all)")
	rootCmd.AddCommand(eventsCmd)
}
