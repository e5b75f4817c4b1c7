package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// styles is the stylesheet for the enforcement progress view. Status colors
// follow the batch outcome: green for completed, yellow for partial, red for
// failed or cancelled.
var styles = struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}{
	title: lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true).MarginBottom(1),
	ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true),
	err:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E5484D")).Bold(true),
	warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB224")),
	help:  lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Italic(true),
}
