// Package speech adapts an external text-to-speech command to the
// SpeechSynthesizer port.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Synthesizer shells out to an espeak-ng style command, feeding text on
// stdin.
type Synthesizer struct {
	command string
	voice   string
}

func NewSynthesizer(command, voice string) *Synthesizer {
	if command == "" {
		command = "espeak-ng"
	}
	return &Synthesizer{command: command, voice: voice}
}

// Speak reads text aloud. An empty input is a no-op.
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	args := []string{"--stdin"}
	if s.voice != "" {
		args = append(args, "-v", s.voice)
	}

	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := string(bytes.TrimSpace(stderr.Bytes()))
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("speech synthesis failed: %s", detail)
	}
	return nil
}
