package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/ruleflow/internal/cli"
	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/storage"
	"github.com/spf13/cobra"
)

func backupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage ledger backups",
		Long: `A backup is taken automatically before classification results are
applied. Only the newest backups are kept.`,
	}
	cmd.AddCommand(listBackupsCmd())
	cmd.AddCommand(createBackupCmd())
	cmd.AddCommand(restoreBackupCmd())
	return cmd
}

func listBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			backups, err := store.Backups().List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}
			if len(backups) == 0 {
				cmd.Println(cli.FormatInfo("No backups yet"))
				return nil
			}

			rows := make([][]string, 0, len(backups))
			for _, b := range backups {
				rows = append(rows, []string{
					b.ID,
					b.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					b.Reason,
					fmt.Sprintf("%d", b.RowCounts["records"]),
					formatBytes(b.FileSize),
				})
			}
			cmd.Println(cli.RenderTable([]string{"ID", "Created", "Reason", "Records", "Size"}, rows))
			return nil
		},
	}
}

func createBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [reason]",
		Short: "Take a backup now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason := "manual"
			if len(args) == 1 {
				reason = args[0]
			}

			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			info, err := store.Backups().Create(ctx, reason)
			if err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}
			cmd.Println(cli.FormatSuccess("Created backup " + info.ID))
			return nil
		},
	}
}

func restoreBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Replace the ledger with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := storage.NewSQLiteStorage(cfg.Database.Path, cfg.Backup.Keep)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = store.Close() }()

			err = store.Backups().Restore(ctx, args[0])
			switch {
			case errors.Is(err, storage.ErrBackupNotFound), errors.Is(err, storage.ErrInvalidBackupID):
				return common.NewUserError(fmt.Sprintf("no backup named %q", args[0]), err)
			case err != nil:
				return fmt.Errorf("failed to restore backup: %w", err)
			}
			cmd.Println(cli.FormatSuccess("Restored backup " + args[0]))
			return nil
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), strings.ToUpper("kmgtpe")[exp])
}
