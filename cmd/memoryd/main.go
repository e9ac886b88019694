// Command memoryd is the durable personal memory engine's daemon and CLI. It hosts the
// background scheduler and a small localhost HTTP surface (serve), reports composed
// health (status), snapshots the database (backup), and imports a pre-project-hash
// legacy database (migrate-legacy).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "memoryd",
		Short: "memoryd is the durable personal memory engine daemon",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newBackupCmd())
	root.AddCommand(newMigrateLegacyCmd())
	return root
}
