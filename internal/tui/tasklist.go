package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	statusPending   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	statusPlanning  = lipgloss.NewStyle().Foreground(lipgloss.Color("4")) // Blue
	statusExecuting = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
	statusBlocked   = lipgloss.NewStyle().Foreground(lipgloss.Color("5")) // Magenta
	statusCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
	statusMuted     = lipgloss.NewStyle().Foreground(mutedColor)
)

var filters = []string{"", "pending", "planning", "executing", "paused", "blocked", "completed", "failed", "cancelled"}
var filterNames = []string{"all", "pending", "planning", "executing", "paused", "blocked", "completed", "failed", "cancelled"}

func formatStatus(status string) string {
	switch status {
	case "pending":
		return statusPending.Render("● pending")
	case "planning":
		return statusPlanning.Render("● planning")
	case "executing":
		return statusExecuting.Render("● executing")
	case "paused":
		return statusMuted.Render("◌ paused")
	case "blocked":
		return statusBlocked.Render("◆ blocked")
	case "completed":
		return statusCompleted.Render("✓ completed")
	case "failed":
		return statusFailed.Render("✗ failed")
	case "cancelled":
		return statusMuted.Render("✗ cancelled")
	default:
		return status
	}
}

func (a *App) renderTaskList(height int) string {
	if a.loading && len(a.tasks) == 0 {
		return "  Loading tasks...\n"
	}
	if len(a.tasks) == 0 {
		return helpStyle.Render("  No tasks. Type 'add <prompt>' to create one.") + "\n"
	}

	// Keep the selection visible.
	start := 0
	if height > 0 && a.selectedIdx >= height {
		start = a.selectedIdx - height + 1
	}

	var b strings.Builder
	for i := start; i < len(a.tasks); i++ {
		if height > 0 && i-start >= height {
			break
		}
		t := a.tasks[i]
		line := fmt.Sprintf("%s  %-40s  %s", shortID(t.ID), truncate(t.TaskTitle, 40), formatStatus(t.Status))
		if i == a.selectedIdx {
			b.WriteString(selectedStyle.Render("▸ "+line) + "\n")
		} else {
			b.WriteString(taskItemStyle.Render("  "+line) + "\n")
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
