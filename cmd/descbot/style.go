package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	keyStyle   = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("245"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func printOK(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, okStyle.Render("✓")+" "+fmt.Sprintf(format, a...))
}

func printErr(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, errStyle.Render("✗")+" "+fmt.Sprintf(format, a...))
}

// kv renders aligned key/value rows.
func kv(rows ...[2]string) string {
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, keyStyle.Render(r[0]), r[1]))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
