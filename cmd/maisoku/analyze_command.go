package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"maisoku/internal/bootstrap"
	"maisoku/internal/domain"
	"maisoku/internal/present"
)

// nopSink drops events. One-shot commands have no session observers.
type nopSink struct{}

func (nopSink) SessionStateChanged(domain.SessionSnapshot, domain.TransitionReason) {}
func (nopSink) SessionError(domain.Failure, string)                                 {}

// newAnalyzeCommand submits a single image file, bypassing the interactive
// session flow.
func newAnalyzeCommand() *cobra.Command {
	var speak bool
	var noSave bool

	cmd := &cobra.Command{
		Use:   "analyze <image-file>",
		Short: "Analyze a single property photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := bootstrap.Build(nopSink{})
			if err != nil {
				return err
			}
			defer services.History.Close()

			ctx := cmd.Context()

			identity, err := services.Identity.CurrentIdentity(ctx)
			if err != nil {
				return err
			}
			if identity == nil {
				return errors.New("sign in required: set MAISOKU_TOKEN or MAISOKU_TOKEN_FILE")
			}

			img, err := services.Pipeline.FromFile(args[0])
			if err != nil {
				return err
			}

			profile, err := services.History.LoadProfile(ctx, identity.UserID)
			if err != nil {
				services.Logger.Warn("load preference profile", "error", err)
				profile = nil
			}

			result, err := services.Analysis.Submit(ctx, *img, profile, identity)
			if err != nil {
				if failure := domain.Describe(err); failure != nil {
					return fmt.Errorf("%s", failure.Message)
				}
				return err
			}

			presenter := present.New(result)
			renderDisplay(cmd.OutOrStdout(), presenter.DisplayText())
			fmt.Fprintf(cmd.OutOrStdout(), "\nprocessed in %s", result.ProcessingTime.Round(time.Millisecond))
			if result.IsPersonalized {
				fmt.Fprint(cmd.OutOrStdout(), " (personalized)")
			}
			fmt.Fprintln(cmd.OutOrStdout())

			if !noSave {
				entry := domain.HistoryEntry{
					ID:       uuid.NewString(),
					UserID:   identity.UserID,
					Result:   result,
					ImageRef: img.SourceRef,
				}
				if id, saveErr := services.History.Save(ctx, entry); saveErr != nil {
					services.Logger.Warn("save history entry", "error", saveErr)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "saved as %s\n", id)
				}
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
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Skip saving the result to history")
	return cmd
}

func renderDisplay(out io.Writer, lines []present.Line) {
	for _, line := range lines {
		if line.Bullet {
			fmt.Fprint(out, "  • ")
		}
		for _, span := range line.Spans {
			if span.Bold {
				fmt.Fprint(out, text.Bold.Sprint(span.Text))
				continue
			}
			fmt.Fprint(out, span.Text)
		}
		fmt.Fprintln(out)
	}
}
