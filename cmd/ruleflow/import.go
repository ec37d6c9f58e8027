package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Veraticus/ruleflow/internal/cli"
	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/Veraticus/ruleflow/internal/ofx"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import records from OFX/QFX files",
		Long: `Import bank and credit card records from OFX or QFX files.

Records are keyed by account and transaction id, so importing the same
statement twice adds nothing.

Examples:
  ruleflow import ~/Downloads/chase_jan.qfx
  ruleflow import ~/Downloads/*.qfx --account 1234567890=Checking`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")
	cmd.Flags().StringToString("account", nil, "Map an OFX account id to a ledger account name (id=name)")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	accounts, _ := cmd.Flags().GetStringToString("account")

	files, err := expandFiles(args)
	if err != nil {
		return err
	}

	slog.Info("Importing OFX files", "file_count", len(files), "dry_run", dryRun)

	ctx := cmd.Context()
	parser := &ofx.Parser{Accounts: accounts}

	var all []model.Record
	for _, file := range files {
		records, err := parseOFXFile(cmd, parser, file)
		if err != nil {
			return err
		}
		common.LogInfo("Parsed file", common.Fields{"file": filepath.Base(file), "records": len(records)})
		all = append(all, records...)
	}

	if dryRun {
		cmd.Println(cli.FormatInfo(fmt.Sprintf("Would import %d records from %d files", len(all), len(files))))
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	added, err := store.SaveRecords(ctx, all)
	if err != nil {
		return fmt.Errorf("failed to save records: %w", err)
	}

	cmd.Println(cli.FormatSuccess(fmt.Sprintf("Imported %d new records (%d already present)", added, len(all)-added)))
	return nil
}

func parseOFXFile(cmd *cobra.Command, parser *ofx.Parser, path string) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	records, err := parser.ParseFile(cmd.Context(), f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return records, nil
}

// expandFiles resolves glob patterns, keeping literal paths that exist.
func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) > 0 {
			files = append(files, matches...)
			continue
		}
		if _, err := os.Stat(pattern); err == nil {
			files = append(files, pattern)
		} else {
			slog.Warn("No files found matching pattern", "pattern", pattern)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found to import")
	}
	return files, nil
}
