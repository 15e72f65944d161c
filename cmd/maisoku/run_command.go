package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"maisoku/internal/bootstrap"
	"maisoku/internal/domain"
	"maisoku/internal/eventstream"
)

var knownActions = []domain.Action{
	domain.ActionShowPhotoChoice,
	domain.ActionStartCameraCapture,
	domain.ActionPickFromGallery,
	domain.ActionTakePicture,
	domain.ActionSwitchCamera,
	domain.ActionBackToPhotoChoice,
	domain.ActionCancelAnalysis,
	domain.ActionResetAnalysis,
	domain.ActionReanalyze,
	domain.ActionNavigateToLogin,
}

func parseAction(raw string) (domain.Action, bool) {
	candidate := domain.Action(strings.TrimSpace(raw))
	for _, a := range knownActions {
		if candidate == a {
			return a, true
		}
	}
	return "", false
}

// newRunCommand drives an interactive session. Actions arrive one per line on
// stdin; state transitions stream to websocket observers on the events
// address and echo to stdout.
func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an interactive analysis session",
		RunE: func(cmd *cobra.Command, args []string) error {
			hub := eventstream.NewHub(nil)
			services, err := bootstrap.Build(hub)
			if err != nil {
				return err
			}
			defer services.History.Close()
			defer hub.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			listener, err := net.Listen("tcp", services.Config.Events.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", services.Config.Events.ListenAddr, err)
			}
			server := &http.Server{Handler: hub}
			go func() {
				if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
					services.Logger.Error("event stream server stopped", "error", serveErr)
				}
			}()
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer shutdownCancel()
				server.Shutdown(shutdownCtx) //nolint:errcheck
			}()

			controller := services.Controller
			controller.Start(ctx)
			defer controller.Shutdown()

			fmt.Fprintf(cmd.OutOrStdout(), "events: ws://%s\n", listener.Addr())
			fmt.Fprintln(cmd.OutOrStdout(), "enter an action per line (empty line prints the current state, ctrl-d exits):")

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					select {
					case lines <- scanner.Text():
					case <-ctx.Done():
						return
					}
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if strings.TrimSpace(line) == "" {
						printSnapshot(cmd, controller.Snapshot())
						continue
					}
					action, ok := parseAction(line)
					if !ok {
						fmt.Fprintf(cmd.OutOrStdout(), "unknown action %q\n", strings.TrimSpace(line))
						continue
					}
					controller.Dispatch(action)
					printSnapshot(cmd, controller.Snapshot())
				}
			}
		},
	}
	return cmd
}

func printSnapshot(cmd *cobra.Command, snap domain.SessionSnapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "state=%s authenticated=%t", snap.State, snap.Authenticated)
	if snap.ProcessingImage {
		fmt.Fprint(out, " processing")
	}
	if snap.HardwareUnavailable {
		fmt.Fprint(out, " camera-unavailable")
	}
	if snap.LastError != nil {
		fmt.Fprintf(out, " error=%s", snap.LastError.Message)
	}
	fmt.Fprintln(out)
}
