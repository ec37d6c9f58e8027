package main

import (
	"errors"
	"fmt"

	"github.com/Veraticus/ruleflow/internal/cli"
	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/spf13/cobra"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage the category vocabulary",
	}
	cmd.AddCommand(listCategoriesCmd())
	cmd.AddCommand(addCategoryCmd())
	return cmd
}

func listCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all categories",
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

			categories, err := store.GetCategories(ctx)
			if err != nil {
				return fmt.Errorf("failed to list categories: %w", err)
			}
			if len(categories) == 0 {
				cmd.Println(cli.FormatInfo("No categories yet. Add one with 'ruleflow categories add <name>'."))
				return nil
			}

			rows := make([][]string, 0, len(categories))
			for _, c := range categories {
				rows = append(rows, []string{fmt.Sprintf("%d", c.ID), c.Name, c.Description})
			}
			cmd.Println(cli.RenderTable([]string{"ID", "Name", "Description"}, rows))
			return nil
		},
	}
}

func addCategoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")

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

			category, err := store.CreateCategory(ctx, args[0], description)
			if errors.Is(err, common.ErrDuplicateEntry) {
				return common.NewUserError(fmt.Sprintf("category %q already exists", args[0]), nil)
			}
			if err != nil {
				return fmt.Errorf("failed to create category: %w", err)
			}

			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Added category %q", category.Name)))
			return nil
		},
	}
	cmd.Flags().StringP("description", "d", "", "Category description")
	return cmd
}
