package main

import (
	"fmt"

	"github.com/Veraticus/ruleflow/internal/cli"
	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/Veraticus/ruleflow/internal/rules"
	"github.com/Veraticus/ruleflow/internal/tui"
	"github.com/Veraticus/ruleflow/internal/tui/themes"
	"github.com/spf13/cobra"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review learned rule suggestions",
		Long: `Walk through staged rule suggestions. Accepted suggestions are appended
to the rule document; rejected ones are never offered again.`,
		RunE: runReview,
	}
	cmd.Flags().String("theme", "default", "Color theme (default, catppuccin)")
	cmd.Flags().Bool("list", false, "Print pending suggestions instead of opening the reviewer")
	return cmd
}

func runReview(cmd *cobra.Command, _ []string) error {
	theme, _ := cmd.Flags().GetString("theme")
	listOnly, _ := cmd.Flags().GetBool("list")

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

	pending, err := store.PendingSuggestions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load suggestions: %w", err)
	}
	if len(pending) == 0 {
		cmd.Println(cli.FormatInfo("No rule suggestions to review"))
		return nil
	}
	if listOnly {
		cmd.Println(cli.RenderSuggestions(pending))
		return nil
	}

	writeRule := func(rule model.CategoryRule) error {
		return rules.AppendCategoryRule(cfg.Rules.Path, rule)
	}
	outcome, err := tui.Run(ctx, pending, store, writeRule, tui.WithTheme(themes.ByName(theme)))
	if err != nil {
		return err
	}
	common.LogDebug("Review finished", common.Fields{
		"accepted": outcome.Accepted,
		"rejected": outcome.Rejected,
		"skipped":  outcome.Skipped,
		"rules":    cfg.Rules.Path,
	})

	cmd.Println(cli.FormatSuccess(fmt.Sprintf("%d accepted, %d rejected, %d skipped",
		outcome.Accepted, outcome.Rejected, outcome.Skipped)))
	return nil
}
