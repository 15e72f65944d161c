package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DialogPicker invokes a desktop file-chooser command (zenity by default) as
// the platform image-selection surface.
type DialogPicker struct {
	command string
}

func NewDialogPicker(command string) *DialogPicker {
	if command == "" {
		command = "zenity"
	}
	return &DialogPicker{command: command}
}

// Pick opens the chooser and returns the selected path. A dismissed dialog
// reports ok=false with no error.
func (d *DialogPicker) Pick(ctx context.Context) (string, bool, error) {
	args := []string{
		"--file-selection",
		"--title", "Choose a property photo",
		"--file-filter", "Images | *.jpg *.jpeg *.png *.gif",
	}

	cmd := exec.CommandContext(ctx, d.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			// zenity exits 1 when the user dismisses the dialog.
			return "", false, nil
		}
		detail := string(bytes.TrimSpace(stderr.Bytes()))
		if detail == "" {
			detail = err.Error()
		}
		return "", false, fmt.Errorf("file chooser failed: %s", detail)
	}

	path := strings.TrimSpace(stdout.String())
	if path == "" {
		return "", false, nil
	}
	return path, true, nil
}
