// Package console renders pipeline progress and tables for the terminal
// and asks the approval question.
package console

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	phaseStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C678DD"))
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#D19A66"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Title renders a heading line.
func Title(s string) string { return titleStyle.Render(s) }

// Dim renders secondary text.
func Dim(s string) string { return dimStyle.Render(s) }

// OK renders a success marker line.
func OK(s string) string { return okStyle.Render("✔ " + s) }

// Fail renders a failure marker line.
func Fail(s string) string { return failStyle.Render("✖ " + s) }

// Table renders rows under headers with a rounded border.
func Table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		Render()
}
