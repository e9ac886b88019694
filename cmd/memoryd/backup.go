package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/memoryd/memoryd/internal/config"
)

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the current project's database and prune old backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			e, err := openEngine(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer e.close()

			retention := config.GetInt("backup_retention_count")
			path, err := e.store.Backup(cmd.Context(), retention)
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			fmt.Println(path)
			return nil
		},
	}
}
