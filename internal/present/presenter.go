// Package present exposes pure, side-effect-free views over a completed
// analysis result: structured display spans, speech-ready text, and
// clipboard-ready text. Nothing here mutates controller state.
package present

import (
	"strings"

	"maisoku/internal/domain"
)

// Span is a run of display text with uniform styling.
type Span struct {
	Text string
	Bold bool
}

// Line is one display line, optionally rendered as a bullet item.
type Line struct {
	Bullet bool
	Spans  []Span
}

// Presenter wraps a completed result.
type Presenter struct {
	result domain.AnalysisResult
}

func New(result domain.AnalysisResult) Presenter {
	return Presenter{result: result}
}

// DisplayText interprets the constrained markdown subset the analysis
// service emits: bold via **...** and bullet lines via a leading "* ".
func (p Presenter) DisplayText() []Line {
	return parseDisplay(p.result.Analysis)
}

// SpeechText returns the analysis stripped of markup, ready for a
// text-to-speech engine.
func (p Presenter) SpeechText() string {
	return SpeechText(p.result.Analysis)
}

// ClipboardText unescapes literal escape sequences but preserves markdown
// for paste targets that render it.
func (p Presenter) ClipboardText() string {
	return ClipboardText(p.result.Analysis)
}

func parseDisplay(text string) []Line {
	rawLines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]Line, 0, len(rawLines))
	for _, raw := range rawLines {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		bullet := false
		if rest, ok := strings.CutPrefix(trimmed, "* "); ok {
			bullet = true
			trimmed = strings.TrimSpace(rest)
		}
		lines = append(lines, Line{Bullet: bullet, Spans: parseSpans(trimmed)})
	}
	return lines
}

// parseSpans alternates normal/bold runs on ** markers. An unbalanced
// trailing marker is dropped rather than rendered literally.
func parseSpans(text string) []Span {
	parts := strings.Split(text, "**")
	spans := make([]Span, 0, len(parts))
	for i, part := range parts {
		if part == "" {
			continue
		}
		spans = append(spans, Span{Text: part, Bold: i%2 == 1})
	}
	if len(spans) == 0 {
		spans = append(spans, Span{Text: text})
	}
	return spans
}

// SpeechText strips markdown and list markers and collapses repeated line
// breaks. It is deterministic and idempotent: applying it twice yields the
// same output as applying it once.
func SpeechText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "**", "")

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		// Strip stacked markers too, so a second pass has nothing to remove.
		for {
			rest, ok := strings.CutPrefix(line, "* ")
			if !ok {
				break
			}
			line = strings.TrimSpace(rest)
		}
		if line == "" {
			continue
		}
		cleaned = append(cleaned, line)
	}
	return strings.Join(cleaned, "\n")
}

// ClipboardText converts literal \n and \t escape sequences into real
// whitespace while keeping markdown intact.
func ClipboardText(text string) string {
	text = strings.ReplaceAll(text, `\n`, "\n")
	text = strings.ReplaceAll(text, `\t`, "\t")
	return text
}
