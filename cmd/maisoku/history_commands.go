package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"maisoku/internal/bootstrap"
	"maisoku/internal/present"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse saved analysis results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDeleteCommand())
	return cmd
}

// currentUserID resolves the signed-in user for history scoping. History is
// always per-user; anonymous callers have nothing stored.
func currentUserID(ctx context.Context, services bootstrap.Services) (string, error) {
	identity, err := services.Identity.CurrentIdentity(ctx)
	if err != nil {
		return "", err
	}
	if identity == nil {
		return "", errors.New("sign in required: set MAISOKU_TOKEN or MAISOKU_TOKEN_FILE")
	}
	return identity.UserID, nil
}

func newHistoryListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved results, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := bootstrap.Build(nopSink{})
			if err != nil {
				return err
			}
			defer services.History.Close()

			ctx := cmd.Context()
			userID, err := currentUserID(ctx, services)
			if err != nil {
				return err
			}

			entries, err := services.History.List(ctx, userID, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no saved results")
				return nil
			}

			rows := make([]table.Row, 0, len(entries))
			for _, entry := range entries {
				summary := entry.Result.Analysis
				if runes := []rune(summary); len(runes) > 48 {
					summary = string(runes[:48]) + "…"
				}
				personalized := ""
				if entry.Result.IsPersonalized {
					personalized = "yes"
				}
				rows = append(rows, table.Row{
					entry.ID,
					entry.CreatedAt.Local().Format("2006-01-02 15:04"),
					entry.Result.ProcessingTime.Round(time.Millisecond).String(),
					personalized,
					summary,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				table.Row{"ID", "Created", "Took", "Personalized", "Analysis"},
				rows,
				3,
			))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to show (0 uses the default)")
	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	var speak bool
	var raw bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Display one saved result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := bootstrap.Build(nopSink{})
			if err != nil {
				return err
			}
			defer services.History.Close()

			ctx := cmd.Context()
			userID, err := currentUserID(ctx, services)
			if err != nil {
				return err
			}

			entry, err := services.History.Get(ctx, userID, args[0])
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("no saved result with id %s", args[0])
			}

			presenter := present.New(entry.Result)
			if raw {
				fmt.Fprintln(cmd.OutOrStdout(), presenter.ClipboardText())
			} else {
				renderDisplay(cmd.OutOrStdout(), presenter.DisplayText())
			}

			if speak {
				if speakErr := services.Speech.Speak(ctx, presenter.SpeechText()); speakErr != nil {
					services.Logger.Warn("speech synthesis", "error", speakErr)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&speak, "speak", false, "Read the analysis aloud")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print plain text suitable for piping")
	return cmd
}

func newHistoryDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one saved result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := bootstrap.Build(nopSink{})
			if err != nil {
				return err
			}
			defer services.History.Close()

			ctx := cmd.Context()
			userID, err := currentUserID(ctx, services)
			if err != nil {
				return err
			}

			if err := services.History.Delete(ctx, userID, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}
	return cmd
}
