package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the engine's status report for the current project's database",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			e, err := openEngine(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer e.close()

			report, err := e.health.BuildStatusReport(cmd.Context())
			if err != nil {
				return fmt.Errorf("build status report: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
