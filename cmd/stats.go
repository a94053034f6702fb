package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/palengke-labs/pricewatch/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print dataset statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unresolved price conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		conflicts, err := st.ListConflicts(ctx, conflictsLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(conflicts)
	},
}

var conflictsLimit int

func init() {
	conflictsCmd.Flags().IntVar(&conflictsLimit, "limit", 100, "max conflicts to list")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(conflictsCmd)
}
