package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bankrupt_bot/internal/bot"
	"bankrupt_bot/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Download the registry and replace the local snapshot",
	Long: `Resolves the current registry file through the data portal API and
replaces the local snapshot. Without --force the download is skipped when the
source has not changed since the last ingestion.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.ingester.Refresh(cmd.Context(), force)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), bot.FormatRefresh(rep))
		fmt.Fprintln(cmd.OutOrStdout(), "Source:", rep.Source)
		return nil
	},
}

var findCmd = &cobra.Command{
	Use:   "find <code>",
	Short: "Print every registry filing for a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !model.ValidIdentifier(args[0]) {
			return fmt.Errorf("invalid code %q: digits only", args[0])
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ingester.Ensure(cmd.Context()); err != nil {
			return err
		}
		recs, err := a.matcher.Lookup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), bot.FormatLookup(args[0], recs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(findCmd)
	ingestCmd.Flags().Bool("force", false, "download even if the source is unchanged")
}
