package main

import (
	"fmt"
	"strings"

	"github.com/Veraticus/ruleflow/internal/cli"
	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the rule document",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			snap, err := loadRules(cfg)
			if err != nil {
				return err
			}
			cmd.Println(cli.RenderRules(snap))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the rule document and its categories",
		Long: `Load the rule document, reporting the first schema error with its
position. Categories named by rules but missing from the ledger's
vocabulary are listed as warnings.`,
		RunE: runValidateRules,
	})
	return cmd
}

func runValidateRules(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snap, err := loadRules(cfg)
	if err != nil {
		return err
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	vocabulary, err := store.Vocabulary(ctx)
	if err != nil {
		return fmt.Errorf("failed to load categories: %w", err)
	}

	cmd.Println(cli.FormatSuccess(fmt.Sprintf("%d category rules and %d label rules loaded (version %s)",
		len(snap.CategoryRules()), len(snap.LabelRules()), snap.Version())))
	if unknown := snap.UnknownCategories(vocabulary); len(unknown) > 0 {
		cmd.Println(cli.FormatWarning("Rules name categories missing from the ledger: " + strings.Join(unknown, ", ")))
	}
	return nil
}
