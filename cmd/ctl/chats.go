package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"bankrupt_bot/internal/bot"
	"bankrupt_bot/internal/fetcher"
	"bankrupt_bot/internal/model"
)

var checkCmd = &cobra.Command{
	Use:   "check <chat_id>",
	Short: "Print the report a chat would receive now",
	Long: `Computes new filings for the chat's watchlist. The ledger is left
untouched unless --commit is given, in which case the printed filings will not
be sent to the chat again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := parseChatID(args[0])
		if err != nil {
			return err
		}
		commit, _ := cmd.Flags().GetBool("commit")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := a.ingester.Ensure(ctx); err != nil {
			return err
		}
		first, err := a.store.LedgerEmpty(ctx, chatID)
		if err != nil {
			return err
		}
		res, err := a.matcher.ComputeNewMatches(ctx, chatID, a.cfg.Cutoff, commit)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), bot.FormatReport(res, a.cfg.Cutoff, first))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <chat_id> <file>",
	Short: "Add codes from a text or CSV file to a chat's watchlist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := parseChatID(args[0])
		if err != nil {
			return err
		}
		body, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[1], err)
		}
		text, _, err := fetcher.DecodeCSV(body)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.store.BulkImport(cmd.Context(), chatID, bot.ParseIdentifiers(text))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), bot.FormatImport(res))
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <chat_id>",
	Short: "Forget every filing already sent to a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := parseChatID(args[0])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.store.ClearLedger(cmd.Context(), chatID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d ledger entries for chat %d.\n", n, chatID)
		return nil
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Maintain the sent-filings ledger",
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete ledger entries dated on or before a date",
	Long: `Deletes ledger entries whose filing date is on or before --before
(default: the configured cutoff). Filings at or before the cutoff are never
reported, so pruning them cannot cause a repeat notification.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		before := a.cfg.Cutoff
		if raw, _ := cmd.Flags().GetString("before"); raw != "" {
			if before, err = model.ParseEventDate(raw); err != nil {
				return fmt.Errorf("invalid --before: %w", err)
			}
			if before.After(a.cfg.Cutoff) {
				return fmt.Errorf("--before %s is after the cutoff %s; pruned filings would be reported again",
					raw, model.FormatEventDate(a.cfg.Cutoff))
			}
		}

		n, err := a.store.PruneLedger(cmd.Context(), before)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d ledger entries dated on or before %s.\n", n, model.FormatEventDate(before))
		return nil
	},
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", s, err)
	}
	return id, nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(pruneCmd)

	checkCmd.Flags().Bool("commit", false, "record the printed filings as sent")
	pruneCmd.Flags().String("before", "", "prune entries on or before this date, DD.MM.YYYY")
}
