package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/ruleflow/internal/cli"
	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/engine"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/Veraticus/ruleflow/internal/storage"
	"github.com/Veraticus/ruleflow/internal/worker"
	"github.com/spf13/cobra"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify unclassified records",
		Long: `Classify records with the rule document first and the external
classifier for whatever the rules miss. Each result gets a decision:
AUTO_APPLY, ASK_USER or SKIP, depending on the intelligence mode.

Nothing is written to the ledger unless --apply is given. Learned rule
suggestions are always staged for 'ruleflow review'.`,
		RunE: runClassify,
	}

	cmd.Flags().String("mode", "", "Intelligence mode (conservative, balanced, permissive)")
	cmd.Flags().Int("limit", 0, "Classify at most this many records")
	cmd.Flags().String("since", "", "Only records on or after this date (YYYY-MM-DD)")
	cmd.Flags().String("account", "", "Only records from this account")
	cmd.Flags().Bool("all", false, "Include records that already have a category")
	cmd.Flags().Bool("inline", false, "Never delegate to the worker pool")
	cmd.Flags().Bool("apply", false, "Write AUTO_APPLY categories and labels to the ledger")
	cmd.Flags().Bool("dry-run", false, "Show the plan without classifying")
	cmd.Flags().Bool("show-all", false, "List every result instead of only those needing review")

	bindFlag("classification.mode", cmd.Flags().Lookup("mode"))
	return cmd
}

type classifyFlags struct {
	since   *time.Time
	account string
	limit   int
	all     bool
	inline  bool
	apply   bool
	dryRun  bool
	showAll bool
}

func parseClassifyFlags(cmd *cobra.Command) (classifyFlags, error) {
	var f classifyFlags
	f.limit, _ = cmd.Flags().GetInt("limit")
	f.account, _ = cmd.Flags().GetString("account")
	f.all, _ = cmd.Flags().GetBool("all")
	f.inline, _ = cmd.Flags().GetBool("inline")
	f.apply, _ = cmd.Flags().GetBool("apply")
	f.dryRun, _ = cmd.Flags().GetBool("dry-run")
	f.showAll, _ = cmd.Flags().GetBool("show-all")

	if since, _ := cmd.Flags().GetString("since"); since != "" {
		parsed, err := time.Parse("2006-01-02", since)
		if err != nil {
			return f, common.NewUserError("invalid --since date, expected YYYY-MM-DD", err)
		}
		f.since = &parsed
	}
	if f.apply && f.dryRun {
		return f, common.NewUserError("--apply and --dry-run cannot be combined", nil)
	}
	return f, nil
}

func runClassify(cmd *cobra.Command, _ []string) error {
	flags, err := parseClassifyFlags(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snap, err := loadRules(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	vocabulary, err := store.Vocabulary(ctx)
	if err != nil {
		return fmt.Errorf("failed to load categories: %w", err)
	}
	if unknown := snap.UnknownCategories(vocabulary); len(unknown) > 0 {
		slog.Warn("Rules name categories missing from the ledger", "categories", unknown)
	}

	records, err := store.GetRecords(ctx, storage.RecordFilter{
		Since:            flags.since,
		Account:          flags.account,
		Limit:            flags.limit,
		UnclassifiedOnly: !flags.all,
	})
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}
	if len(records) == 0 {
		cmd.Println(cli.FormatInfo("No records to classify"))
		return nil
	}

	external, closeExternal, err := initExternal(cfg)
	if err != nil {
		return err
	}
	defer closeExternal()
	if external == nil {
		slog.Info("No external classifier configured; unmatched records will be skipped")
	}

	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}
	progress := cli.NewProgress(cmd.ErrOrStderr(), len(records))
	opts.Observer = progress
	opts.Logger = slog.Default()

	orchestrator, err := engine.NewOrchestrator(snap, external, opts)
	if err != nil {
		return err
	}

	plan := orchestrator.Plan(records)
	cmd.Println(cli.FormatInfo(cli.RenderPlan(plan)))
	if flags.dryRun {
		return nil
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	runCtx := interrupts.HandleInterrupts(ctx, true)
	defer interrupts.Stop()

	var summary *engine.BatchSummary
	if plan.Delegate && !flags.inline {
		pool := worker.Pool{Workers: cfg.Delegation.Workers, ChunkSize: cfg.Delegation.ChunkSize}
		summary, err = pool.Run(runCtx, orchestrator, records, vocabulary)
	} else {
		summary, err = orchestrator.Run(runCtx, records, vocabulary)
	}
	progress.Finish()
	if err != nil && !errors.Is(err, context.Canceled) {
		common.LogError(err, "Classification failed", common.Fields{"records": len(records), "delegated": plan.Delegate})
		return fmt.Errorf("classification failed: %w", err)
	}

	return report(ctx, cmd, store, summary, records, flags)
}

// report prints the batch outcome, stages suggestions and applies results
// when asked. A cancelled batch is never applied.
func report(ctx context.Context, cmd *cobra.Command, store *storage.SQLiteStorage, summary *engine.BatchSummary, records []model.Record, flags classifyFlags) error {
	byID := make(map[string]model.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	cmd.Println(cli.RenderSummary(summary))
	if flags.showAll {
		cmd.Println(cli.RenderResults(summary.Results, byID))
	} else if summary.Counts.Asked > 0 {
		cmd.Println(cli.FormatTitle("Needs review"))
		cmd.Println(cli.RenderResults(summary.Results, byID, model.DecisionAskUser))
	}

	if len(summary.Suggestions) > 0 {
		created, err := store.StageSuggestions(ctx, summary.Suggestions)
		if err != nil {
			return fmt.Errorf("failed to stage rule suggestions: %w", err)
		}
		cmd.Println(cli.RenderSuggestions(summary.Suggestions))
		cmd.Println(cli.FormatInfo(fmt.Sprintf("%d new rule suggestions staged; run 'ruleflow review' to accept them", created)))
	}

	if summary.Cancelled {
		cmd.Println(cli.FormatWarning("Batch was interrupted; nothing was applied"))
		return nil
	}
	if !flags.apply {
		return nil
	}

	applied, err := store.ApplyResults(ctx, summary.BatchID, summary.Results)
	if err != nil {
		return fmt.Errorf("failed to apply results: %w", err)
	}
	cmd.Println(cli.FormatSuccess(fmt.Sprintf("Applied %d categories (backup %s)", applied.Applied, applied.Backup.ID)))
	return nil
}
