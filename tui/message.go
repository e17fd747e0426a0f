package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	messageOKColor      = lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"}
	messageOKStyle      = lipgloss.NewStyle().Foreground(messageOKColor)
	messageWarningColor = lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"}
	messageWarningStyle = lipgloss.NewStyle().Foreground(messageWarningColor)
	messageMutedColor   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	messageMutedStyle   = lipgloss.NewStyle().Foreground(messageMutedColor)
)

func show(w io.Writer, style lipgloss.Style, mark, plain string, msg string, args ...any) {
	text := fmt.Sprintf(msg, args...)
	if IsTerminal(w) {
		fmt.Fprintln(w, style.Render(" "+mark+" ")+text)
		return
	}
	fmt.Fprintln(w, plain+text)
}

// ShowSuccess writes a success line, for example a matching file.
func ShowSuccess(w io.Writer, msg string, args ...any) {
	show(w, messageOKStyle, "✓", "OK: ", msg, args...)
}

// ShowWarning writes a failure line, for example a mismatched file.
func ShowWarning(w io.Writer, msg string, args ...any) {
	show(w, messageWarningStyle, "✕", "FAILED: ", msg, args...)
}

// ShowError writes an error line, for example a file that could not be read.
func ShowError(w io.Writer, msg string, args ...any) {
	show(w, messageWarningStyle, "⚠", "ERROR: ", msg, args...)
}

// Muted renders text in a dim colour on terminals.
func Muted(w io.Writer, text string) string {
	if IsTerminal(w) {
		return messageMutedStyle.Render(text)
	}
	return text
}
